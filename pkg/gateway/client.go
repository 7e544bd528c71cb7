package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/doncapon/yemisshop-sub004/pkg/config"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultBreakerFailures = 5
	maxErrorBody           = 512
)

var (
	errSecretKeyRequired = errors.New("gateway secret key is required")
	errBaseURLRequired   = errors.New("gateway base url is required")
)

// Client talks to the hosted-checkout gateway. Every call goes through a
// circuit breaker so an unhealthy gateway fails fast.
type Client struct {
	http          *http.Client
	baseURL       string
	secretKey     string
	signingSecret string
	currency      string
	sandbox       bool
	breaker       *gobreaker.CircuitBreaker[[]byte]
	logg          *logger.Logger
}

// NewClient builds a gateway client from configuration.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	return newClient(ctx, cfg, nil, logg)
}

func newClient(ctx context.Context, cfg config.GatewayConfig, httpClient *http.Client, logg *logger.Logger) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}

	c := &Client{
		http:          httpClient,
		baseURL:       baseURL,
		secretKey:     secret,
		signingSecret: cfg.SigningSecret(),
		currency:      cfg.Currency,
		sandbox:       cfg.Sandbox,
		logg:          logg,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// rejected requests mean the gateway is up
			var rejected *rejectedError
			return err == nil || errors.As(err, &rejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			logCtx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(logCtx, "gateway circuit breaker state changed")
		},
	})

	if logg != nil {
		mode := "live"
		if cfg.Sandbox {
			mode = "sandbox"
		}
		logg.Info(ctx, fmt.Sprintf("gateway client initialized (%s)", mode))
	}
	return c, nil
}

// SigningSecret returns the secret used to authenticate push events.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// Sandbox reports whether the client points at test credentials.
func (c *Client) Sandbox() bool {
	return c != nil && c.sandbox
}

// InitializeCharge opens a hosted checkout session for the reference.
func (c *Client) InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeSession, error) {
	if req.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge reference is required")
	}
	body := initializeBody{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Reference:   req.Reference,
		Currency:    firstNonEmpty(req.Currency, c.currency),
		CallbackURL: req.CallbackURL,
		Channels:    req.Channels,
		Metadata:    req.Metadata,
	}
	if req.Split != nil {
		body.Split = req.Split
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	return &ChargeSession{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        firstNonEmpty(data.Reference, req.Reference),
	}, nil
}

// VerifyReference fetches the gateway's view of a charge.
func (c *Client) VerifyReference(ctx context.Context, reference string) (*Verification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &raw); err != nil {
		return nil, err
	}
	var data ChargeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode verification")
	}
	v := data.Verification()
	v.Raw = raw
	if v.Reference == "" {
		v.Reference = reference
	}
	return v, nil
}

// CreateTransferRecipient registers a bank destination and returns its code.
func (c *Client) CreateTransferRecipient(ctx context.Context, req RecipientRequest) (string, error) {
	if req.AccountNumber == "" || req.BankCode == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "account number and bank code are required")
	}
	body := map[string]any{
		"type":           "nuban",
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       firstNonEmpty(req.Currency, c.currency),
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := c.do(ctx, http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gateway returned empty recipient code")
	}
	return data.RecipientCode, nil
}

// InitiateTransfer sends money from the platform balance to a recipient. The
// reference makes the call idempotent on the gateway side.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if req.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}
	body := map[string]any{
		"source":    "balance",
		"amount":    req.AmountMinor,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
		"currency":  firstNonEmpty(req.Currency, c.currency),
	}
	var data struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
		Reference    string `json:"reference"`
	}
	if err := c.do(ctx, http.MethodPost, "/transfer", body, &data); err != nil {
		return nil, err
	}
	return &Transfer{
		TransferCode: data.TransferCode,
		Status:       data.Status,
		Reference:    firstNonEmpty(data.Reference, req.Reference),
	}, nil
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// rejectedError is a 4xx answer: the request was wrong, not the gateway.
type rejectedError struct {
	status  int
	message string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("gateway rejected request (%d): %s", e.status, e.message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c == nil || c.http == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "gateway client not initialized")
	}
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		payload = encoded
	}

	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		return classify(err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	if !env.Status {
		return pkgerrors.New(pkgerrors.CodeDependency, "gateway reported failure: "+env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], env.Data...)
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway data")
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("gateway unavailable (%d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		var env envelope
		_ = json.Unmarshal(respBody, &env)
		msg := env.Message
		if msg == "" {
			msg = truncate(string(respBody), maxErrorBody)
		}
		return nil, &rejectedError{status: resp.StatusCode, message: msg}
	}
	return respBody, nil
}

func classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway circuit open")
	}
	var rejected *rejectedError
	if errors.As(err, &rejected) {
		if rejected.status == http.StatusNotFound {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "gateway resource not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway rejected request")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway request failed")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
