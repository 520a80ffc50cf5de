// Package notification delivers webhook requests to subscriber endpoints.
package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"syscall"
	"time"

	"github.com/openctemio/webhooks/internal/metrics"
	"github.com/openctemio/webhooks/pkg/crypto"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

// Headers set on every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-ID"
	HeaderAttempt   = "X-Webhook-Attempt"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// DefaultUserAgent is sent when ClientConfig.UserAgent is empty.
const DefaultUserAgent = "openctem-webhooks/1.0"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// ErrBlockedAddress is returned when a callback resolves to an address the
// callback policy does not allow.
var ErrBlockedAddress = errors.New("callback address is not allowed")

// AttemptClass classifies the result of one HTTP attempt.
type AttemptClass int

const (
	AttemptDelivered AttemptClass = iota
	AttemptRejected
	AttemptTransient
)

func (c AttemptClass) String() string {
	switch c {
	case AttemptDelivered:
		return "delivered"
	case AttemptRejected:
		return "rejected"
	default:
		return "transient"
	}
}

// AttemptResult is the result of a single POST.
type AttemptResult struct {
	Class      AttemptClass
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Classify maps an HTTP status to an attempt class. 408 and 429 are treated
// as transient along with 5xx; every other non-2xx status is terminal.
func Classify(status int) AttemptClass {
	switch {
	case status >= 200 && status < 300:
		return AttemptDelivered
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return AttemptTransient
	default:
		return AttemptRejected
	}
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string
	Policy    webhook.CallbackPolicy
}

// Client performs single delivery attempts.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a Client whose dialer enforces the callback policy on
// every resolved address.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           safeDialer(cfg.Policy).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			// Redirects are not followed; the target must answer directly.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: cfg.UserAgent,
	}
}

func safeDialer(policy webhook.CallbackPolicy) *net.Dialer {
	return &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
			}
			if !policy.AllowsAddr(ap.Addr()) {
				return fmt.Errorf("%w: %s", ErrBlockedAddress, ap.Addr())
			}
			return nil
		},
	}
}

// Attempt signs and POSTs the request body once.
func (c *Client) Attempt(ctx context.Context, req *webhook.DeliveryRequest, attempt int) AttemptResult {
	start := time.Now()
	res := c.attempt(ctx, req, attempt)
	res.Duration = time.Since(start)

	metrics.DeliveryAttemptDuration.Observe(res.Duration.Seconds())
	metrics.DeliveryAttemptsTotal.WithLabelValues(res.Class.String()).Inc()
	return res
}

func (c *Client) attempt(ctx context.Context, req *webhook.DeliveryRequest, attempt int) AttemptResult {
	body, err := req.Body(attempt)
	if err != nil {
		return AttemptResult{Class: AttemptRejected, Err: fmt.Errorf("encode payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Registration.CallbackURI(), bytes.NewReader(body))
	if err != nil {
		return AttemptResult{Class: AttemptRejected, Err: fmt.Errorf("create request: %w", err)}
	}
	for name, value := range req.Registration.Headers() {
		httpReq.Header.Set(name, value)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(HeaderID, req.ID)
	httpReq.Header.Set(HeaderAttempt, strconv.Itoa(attempt))
	httpReq.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	httpReq.Header.Set(HeaderSignature, crypto.Sign(body, req.Registration.Secret()))

	metrics.DeliveriesInFlight.Inc()
	resp, err := c.httpClient.Do(httpReq)
	metrics.DeliveriesInFlight.Dec()
	if err != nil {
		if errors.Is(err, ErrBlockedAddress) {
			return AttemptResult{Class: AttemptRejected, Err: err}
		}
		return AttemptResult{Class: AttemptTransient, Err: fmt.Errorf("send request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	// Limit response body to 1MB to prevent memory exhaustion from malicious responses
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	class := Classify(resp.StatusCode)
	if class == AttemptDelivered {
		return AttemptResult{Class: class, StatusCode: resp.StatusCode}
	}
	return AttemptResult{
		Class:      class,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, truncate(snippet, 256)),
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
