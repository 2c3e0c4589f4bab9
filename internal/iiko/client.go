package iiko

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api-ru.iiko.services"

	pathAccessToken      = "/api/1/access_token"
	pathOrganizations    = "/api/1/organizations"
	pathNomenclature     = "/api/1/nomenclature"
	pathTerminalGroups   = "/api/1/terminal_groups"
	pathPaymentTypes     = "/api/1/payment_types"
	pathStopLists        = "/api/1/stop_lists"
	pathDiscounts        = "/api/1/discounts"
	pathDeliveryCreate   = "/api/1/deliveries/create"
	pathDeliveryByID     = "/api/1/deliveries/by_id"
	pathCommandStatus    = "/api/1/commands/status"
	pathExternalMenus    = "/api/2/menu"
	pathExternalMenuByID = "/api/2/menu/by_id"
)

var ErrEmptyToken = errors.New("iiko: access token response has no token")

// Client держит токен только в памяти экземпляра: один клиент на организацию
// (или на запрос), токен не сохраняется между процессами.
type Client struct {
	baseURL    string
	apiLogin   string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu    sync.Mutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

func NewClient(baseURL, apiLogin string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiLogin:   apiLogin,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate обменивает apiLogin организации на bearer-токен и запоминает его.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	status, body, err := c.send(ctx, pathAccessToken, map[string]string{"apiLogin": c.apiLogin}, "")
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &APIError{Path: pathAccessToken, StatusCode: status, Body: string(body)}
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("iiko: failed to decode access token response: %w", err)
	}
	if resp.Token == "" {
		return "", ErrEmptyToken
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()

	return resp.Token, nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.Authenticate(ctx)
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// post выполняет авторизованный запрос. На 401 токен сбрасывается, выписывается
// заново и запрос повторяется ровно один раз.
func (c *Client) post(ctx context.Context, path string, payload any, out any) ([]byte, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.send(ctx, path, payload, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		log.Warn().Str("path", path).Msg("iiko: token rejected, re-authenticating")
		c.resetToken()
		token, err = c.Authenticate(ctx)
		if err != nil {
			return nil, err
		}
		status, body, err = c.send(ctx, path, payload, token)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, &APIError{Path: path, StatusCode: status, Body: string(body)}
	}

	if out != nil {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return nil, fmt.Errorf("iiko: failed to decode %s response: %w", path, err)
		}
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, path string, payload any, token string) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("iiko: rate limiter: %w", err)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("iiko: failed to encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("iiko: failed to build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &APIError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &APIError{Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	log.Debug().Str("path", path).Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("iiko: response received")
	return resp.StatusCode, body, nil
}

func (c *Client) postFields(ctx context.Context, path string, payload any) (Fields, error) {
	var out Fields
	if _, err := c.post(ctx, path, payload, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = Fields{}
	}
	return out, nil
}

func (c *Client) Organizations(ctx context.Context) (Fields, error) {
	return c.postFields(ctx, pathOrganizations, map[string]any{
		"returnAdditionalInfo": true,
		"includeDisabled":      false,
	})
}

func (c *Client) Nomenclature(ctx context.Context, organizationID string) (Fields, error) {
	return c.postFields(ctx, pathNomenclature, map[string]any{
		"organizationId": organizationID,
		"startRevision":  0,
	})
}

func (c *Client) ExternalMenus(ctx context.Context, organizationID string) (Fields, error) {
	return c.postFields(ctx, pathExternalMenus, map[string]any{
		"organizationIds": []string{organizationID},
	})
}

type ExternalMenuRequest struct {
	ExternalMenuID  string
	OrganizationID  string
	PriceCategoryID string
}

func (c *Client) ExternalMenuByID(ctx context.Context, req ExternalMenuRequest) (Fields, error) {
	payload := map[string]any{
		"externalMenuId":  req.ExternalMenuID,
		"organizationIds": []string{req.OrganizationID},
	}
	if req.PriceCategoryID != "" {
		payload["priceCategoryId"] = req.PriceCategoryID
	}
	return c.postFields(ctx, pathExternalMenuByID, payload)
}

func (c *Client) TerminalGroups(ctx context.Context, organizationID string) (Fields, error) {
	return c.postFields(ctx, pathTerminalGroups, map[string]any{
		"organizationIds": []string{organizationID},
	})
}

func (c *Client) PaymentTypes(ctx context.Context, organizationID string) (Fields, error) {
	return c.postFields(ctx, pathPaymentTypes, map[string]any{
		"organizationIds": []string{organizationID},
	})
}

func (c *Client) Discounts(ctx context.Context, organizationID string) (Fields, error) {
	return c.postFields(ctx, pathDiscounts, map[string]any{
		"organizationIds": []string{organizationID},
	})
}

func (c *Client) StopLists(ctx context.Context, organizationID string) (Fields, error) {
	return c.postFields(ctx, pathStopLists, map[string]any{
		"organizationIds": []string{organizationID},
	})
}

func (c *Client) CreateDelivery(ctx context.Context, req *DeliveryRequest) (*CreateDeliveryResponse, error) {
	var out CreateDeliveryResponse
	raw, err := c.post(ctx, pathDeliveryCreate, req, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

func (c *Client) CommandStatus(ctx context.Context, organizationID, correlationID string) (*CommandStatus, error) {
	var out CommandStatus
	raw, err := c.post(ctx, pathCommandStatus, map[string]string{
		"organizationId": organizationID,
		"correlationId":  correlationID,
	}, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

func (c *Client) DeliveryByID(ctx context.Context, organizationID, orderID string) (Fields, error) {
	return c.postFields(ctx, pathDeliveryByID, map[string]any{
		"organizationIds": []string{organizationID},
		"organizationId":  organizationID,
		"orderIds":        []string{orderID},
	})
}

// Factory выдаёт новый Client на каждый apiLogin; лимитер общий для одного apiLogin.
type Factory struct {
	BaseURL    string
	HTTPClient *http.Client
	RateLimit  rate.Limit
	Burst      int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewFactory(baseURL string, timeout time.Duration, rps float64, burst int) *Factory {
	return &Factory{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		RateLimit:  rate.Limit(rps),
		Burst:      burst,
	}
}

func (f *Factory) ForAPIKey(apiLogin string) *Client {
	opts := []Option{}
	if f.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(f.HTTPClient))
	}
	if l := f.limiter(apiLogin); l != nil {
		opts = append(opts, WithLimiter(l))
	}
	return NewClient(f.BaseURL, apiLogin, opts...)
}

func (f *Factory) limiter(apiLogin string) *rate.Limiter {
	if f.RateLimit <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limiters == nil {
		f.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := f.limiters[apiLogin]
	if !ok {
		burst := f.Burst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(f.RateLimit, burst)
		f.limiters[apiLogin] = l
	}
	return l
}
