package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	headerPublic    = "ApiPublic"
	headerTimestamp = "Timestamp"
	headerSignature = "Signature"

	pathCreateTransaction = "/api/transaction/create/in"
	pathCreatePaymentForm = "/api/crypto/invoice/create"
	pathGetTransaction    = "/api/transaction/get"

	fiatCurrency = "USD"
)

// Options configures the gateway client
type Options struct {
	BaseURL      string
	PublicKey    string
	PrivateKey   string
	MerchantUUID string

	// Zero values fall back to a 10s timeout, 3 attempts and a 2s fixed wait
	Timeout     time.Duration
	MaxAttempts int
	RetryWait   time.Duration

	Now func() time.Time
}

// Client signs and issues requests to the payment processor
type Client struct {
	http         *resty.Client
	publicKey    string
	privateKey   string
	merchantUUID string
	now          func() time.Time
	logger       *zap.Logger
}

// NewClient creates a gateway client
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Client{
		publicKey:    opts.PublicKey,
		privateKey:   opts.PrivateKey,
		merchantUUID: opts.MerchantUUID,
		now:          opts.Now,
		logger:       logger,
	}

	c.http = resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxAttempts-1).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryWait).
		SetRetryAfter(func(*resty.Client, *resty.Response) (time.Duration, error) {
			return opts.RetryWait, nil
		}).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			retry := IsNetworkError(err)
			if retry {
				logger.Warn("Gateway network error, retrying", zap.Error(err))
			}
			return retry
		})

	return c
}

// CreateTransaction registers an inbound transaction and returns its gateway tracker id
func (c *Client) CreateTransaction(ctx context.Context, req OrderRequest) (*Transaction, error) {
	body := createTransactionBody{
		Token:               string(req.Currency),
		Amount:              json.Number(req.Amount.String()),
		ClientTransactionID: req.TrackingID,
		CallbackURL:         req.CallbackURL,
		MerchantUUID:        c.merchantUUID,
	}

	var out Transaction
	if err := c.post(ctx, pathCreateTransaction, body, &out); err != nil {
		return nil, err
	}
	if out.TrackerID == "" {
		return nil, fmt.Errorf("gateway %s: response has no tracker_id", pathCreateTransaction)
	}

	c.logger.Info("Gateway transaction created",
		zap.String("tracking_id", req.TrackingID),
		zap.String("tracker_id", out.TrackerID),
	)
	return &out, nil
}

// CreatePaymentForm creates a hosted payment page for the order
func (c *Client) CreatePaymentForm(ctx context.Context, req OrderRequest) (*PaymentForm, error) {
	body := createPaymentFormBody{
		Amount:              json.Number(req.Amount.String()),
		Token:               string(req.Currency),
		FiatCurrency:        fiatCurrency,
		ClientTransactionID: req.TrackingID,
		Payform:             true,
		MerchantUUID:        c.merchantUUID,
		CallBackURL:         req.CallbackURL,
		StrictCurrency:      false,
	}

	var out PaymentForm
	if err := c.post(ctx, pathCreatePaymentForm, body, &out); err != nil {
		return nil, err
	}
	if out.Link() == "" {
		return nil, fmt.Errorf("gateway %s: response has no payment url", pathCreatePaymentForm)
	}

	c.logger.Info("Gateway payment form created", zap.String("tracking_id", req.TrackingID))
	return &out, nil
}

// CheckStatus reads the current state of a gateway transaction
func (c *Client) CheckStatus(ctx context.Context, trackerID string) (*TransactionStatus, error) {
	var out TransactionStatus
	if err := c.post(ctx, pathGetTransaction, getTransactionBody{TrackerID: trackerID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post signs the exact serialized body and sends it. The timestamp is fixed per call,
// so retried attempts carry the same headers and body.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(headerPublic, c.publicKey).
		SetHeader(headerTimestamp, timestamp).
		SetHeader(headerSignature, Sign(c.privateKey, timestamp, body)).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		if IsNetworkError(err) {
			c.logger.Error("Gateway unreachable after retries", zap.String("path", path), zap.Error(err))
			return fmt.Errorf("%w: %s: %v", ErrNetwork, path, err)
		}
		return fmt.Errorf("gateway request %s failed: %w", path, err)
	}

	if resp.IsError() {
		apiErr := &APIError{Path: path, StatusCode: resp.StatusCode(), Body: string(resp.Body())}
		c.logger.Error("Gateway rejected request",
			zap.String("path", path),
			zap.Int("status", apiErr.StatusCode),
			zap.String("body", apiErr.Body),
		)
		return apiErr
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
