package sms

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
)

const messagingPath = "/version1/messaging"

// HTTPDoer executes HTTP requests; satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends messages through the Africa's Talking bulk SMS API.
type Client struct {
	cfg  config.SMSConfig
	doer HTTPDoer
}

func NewClient(cfg config.SMSConfig, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{cfg: cfg, doer: doer}
}

type sendResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send delivers one message. The API expects form-encoded fields and the
// recipient in international +<digits> form.
func (c *Client) Send(ctx context.Context, phoneNumber, message string) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("to", "+"+strings.TrimPrefix(phoneNumber, "+"))
	form.Set("message", message)
	if c.cfg.SenderID != "" {
		form.Set("from", c.cfg.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+messagingPath, strings.NewReader(form.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building sms request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", c.cfg.APIKey)

	resp, err := c.doer.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sending sms")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading sms response")
	}
	if resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeDependency, "sms gateway returned an error").
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	var decoded sendResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding sms response")
	}
	for _, recipient := range decoded.SMSMessageData.Recipients {
		if recipient.StatusCode >= 400 {
			return pkgerrors.New(pkgerrors.CodeDependency, "sms rejected for recipient").
				WithDetails(map[string]any{"status": recipient.Status})
		}
	}
	return nil
}
