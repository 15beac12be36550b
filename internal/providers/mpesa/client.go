package mpesa

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
)

const (
	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"
	balancePath  = "/mpesa/accountbalance/v1/query"

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
)

// Client talks to the Daraja REST API. Token fetches are cached until
// shortly before expiry.
type Client struct {
	rest *providers.RESTClient
	cfg  config.MpesaConfig

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

func NewClient(cfg config.MpesaConfig, doer providers.HTTPDoer) *Client {
	return &Client{
		rest: providers.NewRESTClient("mpesa", cfg.BaseURL, cfg.Timeout, doer),
		cfg:  cfg,
		now:  time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	var resp tokenResponse
	err := c.rest.DoJSON(ctx, http.MethodGet, tokenPath, map[string]string{
		"Authorization": "Basic " + basic,
	}, nil, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "mpesa token response missing access_token")
	}

	c.accessToken = resp.AccessToken
	// Daraja tokens last an hour; refresh a minute early.
	c.tokenExpiry = c.now().Add(59 * time.Minute)
	return c.accessToken, nil
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// StkPush delivers a push-payment prompt to the payer's device.
func (c *Client) StkPush(ctx context.Context, phone, amount, reference, description string) (*stkPushResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format(timestampLayout)
	req := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackBaseURL + "/api/v1/webhooks/mpesa",
		AccountReference:  reference,
		TransactionDesc:   description,
	}

	var resp stkPushResponse
	err = c.rest.DoJSON(ctx, http.MethodPost, stkPushPath, map[string]string{
		"Authorization": "Bearer " + token,
	}, req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// QueryStatus polls the outcome of a previously submitted push.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*stkQueryResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format(timestampLayout)
	req := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp stkQueryResponse
	err = c.rest.DoJSON(ctx, http.MethodPost, stkQueryPath, map[string]string{
		"Authorization": "Bearer " + token,
	}, req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

type balanceResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
}

// QueryBalance requests the working account balance. The result arrives on
// the result URL; the synchronous response only acknowledges acceptance.
func (c *Client) QueryBalance(ctx context.Context) (*balanceResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req := map[string]string{
		"PartyA":          c.cfg.ShortCode,
		"IdentifierType":  "4",
		"CommandID":       "AccountBalance",
		"ResultURL":       c.cfg.CallbackBaseURL + "/api/v1/webhooks/mpesa",
		"QueueTimeOutURL": c.cfg.CallbackBaseURL + "/api/v1/webhooks/mpesa",
		"Remarks":         "balance check",
	}

	var resp balanceResponse
	err = c.rest.DoJSON(ctx, http.MethodPost, balancePath, map[string]string{
		"Authorization": "Bearer " + token,
	}, req, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, pkgerrors.New(pkgerrors.CodeProviderRejected, fmt.Sprintf("balance query rejected: %s", resp.ResponseDescription))
	}
	return &resp, nil
}
