// Package remote is the HTTP implementation of the remote write primitive.
// Records are inserted with a POST to {base}/rest/v1/{target}.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/blnkfinance/floorsync/config"
	"github.com/blnkfinance/floorsync/internal/request"
	"github.com/blnkfinance/floorsync/model"
)

// Writer inserts one record into a remote collection.
type Writer interface {
	Insert(ctx context.Context, target string, payload json.RawMessage, owner model.OwnerContext) (*Record, error)
}

// Record is what the remote store returned for an accepted insert.
type Record struct {
	Target     string          `json:"target"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data,omitempty"`
	InsertedAt time.Time       `json:"inserted_at"`
}

type Client struct {
	cfg     config.RemoteConfig
	http    *http.Client
	limiter *RateLimiter
	breaker CircuitBreaker
}

func New(cfg config.RemoteConfig) *Client {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewWithHTTPClient lets callers route requests through their own transport.
func NewWithHTTPClient(cfg config.RemoteConfig, httpClient *http.Client) *Client {
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		breaker: NewCircuitBreaker(cfg),
	}
}

// HTTPClient exposes the underlying client so tests can intercept it.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) Insert(ctx context.Context, target string, payload json.RawMessage, owner model.OwnerContext) (*Record, error) {
	if target == "" {
		return nil, &Error{Kind: KindValidation, Message: "target is required"}
	}

	body, err := ownedBody(payload, owner)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error()}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}

	var record *Record
	err = c.breaker.Execute(func() error {
		r, err := c.doInsert(ctx, target, body, owner)
		if err != nil {
			return classify(err)
		}
		record = r
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return record, nil
}

func (c *Client) doInsert(ctx context.Context, target string, body map[string]interface{}, owner model.OwnerContext) (*Record, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.cfg.BaseURL, url.PathEscape(target))

	buf, err := request.ToJsonReq(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")
	req.Header.Set("X-Tenant-ID", owner.TenantID)
	req.Header.Set("X-User-ID", owner.UserID)
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
		req.Header.Set("Authorization", request.BearerAuth(c.cfg.APIKey))
	}

	var data json.RawMessage
	resp, err := request.Call(c.http, req, &data)
	if err != nil {
		return nil, err
	}
	return &Record{Target: target, StatusCode: resp.StatusCode, Data: data, InsertedAt: time.Now().UTC()}, nil
}

// ownedBody stamps the owner identifiers onto the record. Values already
// present in the payload win, so a caller can target a different site.
func ownedBody(payload json.RawMessage, owner model.OwnerContext) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if len(payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	setDefault(body, "tenant_id", owner.TenantID)
	setDefault(body, "user_id", owner.UserID)
	setDefault(body, "site_id", owner.SiteID)
	return body, nil
}

func setDefault(body map[string]interface{}, key, value string) {
	if value == "" {
		return
	}
	if _, ok := body[key]; !ok {
		body[key] = value
	}
}
