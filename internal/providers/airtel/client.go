package airtel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
)

const (
	tokenPath   = "/auth/oauth2/token"
	pushPath    = "/merchant/v1/payments/"
	statusPath  = "/standard/v1/payments/"
	balancePath = "/standard/v1/users/balance"

	country  = "KE"
	currency = "KES"
)

// Client talks to the Airtel Money Open API.
type Client struct {
	rest *providers.RESTClient
	cfg  config.AirtelConfig

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

func NewClient(cfg config.AirtelConfig, doer providers.HTTPDoer) *Client {
	return &Client{
		rest: providers.NewRESTClient("airtel", cfg.BaseURL, cfg.Timeout, doer),
		cfg:  cfg,
		now:  time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req := map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	}
	var resp tokenResponse
	if err := c.rest.DoJSON(ctx, http.MethodPost, tokenPath, nil, req, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "airtel token response missing access_token")
	}

	expiry := time.Duration(resp.ExpiresIn) * time.Second
	if expiry <= time.Minute {
		expiry = time.Hour
	}
	c.accessToken = resp.AccessToken
	c.tokenExpiry = c.now().Add(expiry - time.Minute)
	return c.accessToken, nil
}

func (c *Client) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"X-Country":     country,
		"X-Currency":    currency,
	}, nil
}

type pushRequest struct {
	Reference  string `json:"reference"`
	Subscriber struct {
		Country  string `json:"country"`
		Currency string `json:"currency"`
		MSISDN   string `json:"msisdn"`
	} `json:"subscriber"`
	Transaction struct {
		Amount   string `json:"amount"`
		Country  string `json:"country"`
		Currency string `json:"currency"`
		ID       string `json:"id"`
	} `json:"transaction"`
}

type apiStatus struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ResultCode string `json:"result_code"`
	Success    bool   `json:"success"`
}

type pushResponse struct {
	Data struct {
		Transaction struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"transaction"`
	} `json:"data"`
	Status apiStatus `json:"status"`
}

// Push initiates a USSD payment prompt on the subscriber's handset.
func (c *Client) Push(ctx context.Context, msisdn, amount, reference string) (*pushResponse, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var req pushRequest
	req.Reference = reference
	req.Subscriber.Country = country
	req.Subscriber.Currency = currency
	req.Subscriber.MSISDN = msisdn
	req.Transaction.Amount = amount
	req.Transaction.Country = country
	req.Transaction.Currency = currency
	req.Transaction.ID = reference

	var resp pushResponse
	if err := c.rest.DoJSON(ctx, http.MethodPost, pushPath, headers, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type statusResponse struct {
	Data struct {
		Transaction struct {
			ID            string `json:"id"`
			AirtelMoneyID string `json:"airtel_money_id"`
			Status        string `json:"status"`
			Message       string `json:"message"`
		} `json:"transaction"`
	} `json:"data"`
	Status apiStatus `json:"status"`
}

// Status fetches the current state of a transaction.
func (c *Client) Status(ctx context.Context, transactionID string) (*statusResponse, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	var resp statusResponse
	if err := c.rest.DoJSON(ctx, http.MethodGet, statusPath+transactionID, headers, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type balanceAPIResponse struct {
	Data struct {
		Balance  string `json:"balance"`
		Currency string `json:"currency"`
	} `json:"data"`
	Status apiStatus `json:"status"`
}

// Balance fetches the available merchant float.
func (c *Client) Balance(ctx context.Context) (*balanceAPIResponse, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	var resp balanceAPIResponse
	if err := c.rest.DoJSON(ctx, http.MethodGet, balancePath, headers, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
