// Package advisory is a client for the external scanning-speed advisory
// service. The service takes the user's accuracy and mean response time from
// the last round and answers with the scanning interval for the next one.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/pkg/retry"
)

// InitialScanSpeed is the scanning interval before any advice arrives.
const InitialScanSpeed = 1000 * time.Millisecond

// maxReplyBytes bounds how much of a reply body is read.
const maxReplyBytes = 64 << 10

// Request is the advisory input.
type Request struct {
	PreviousAccuracy     float64 `json:"previousAccuracy"`     // 0..1
	PreviousResponseTime float64 `json:"previousResponseTime"` // ms
}

// Validate checks the request ranges.
func (r Request) Validate() error {
	if math.IsNaN(r.PreviousAccuracy) || r.PreviousAccuracy < 0 || r.PreviousAccuracy > 1 {
		return fmt.Errorf("%w: accuracy %v outside [0,1]", errors.ErrInvalidData, r.PreviousAccuracy)
	}
	if math.IsNaN(r.PreviousResponseTime) || math.IsInf(r.PreviousResponseTime, 0) || r.PreviousResponseTime < 0 {
		return fmt.Errorf("%w: response time %v ms", errors.ErrInvalidData, r.PreviousResponseTime)
	}
	return nil
}

// Response is the advisory output.
type Response struct {
	AdjustedScanningSpeed float64 `json:"adjustedScanningSpeed"` // ms
}

// Interval converts the advised speed to a duration.
func (r Response) Interval() time.Duration {
	return time.Duration(math.Round(r.AdjustedScanningSpeed * float64(time.Millisecond)))
}

// Config holds client settings.
type Config struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
	Retry   retry.Config  `json:"-"`
}

// DefaultConfig returns a 15s timeout with three attempts.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
		Retry:   retry.DefaultConfig(),
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "advisory", "Validate", "url check")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return errors.WrapFatal(fmt.Errorf("%w: url %q is not http(s)", errors.ErrInvalidConfig, c.URL),
			"advisory", "Validate", "url check")
	}
	if c.Timeout < 0 {
		return errors.WrapFatal(fmt.Errorf("%w: negative timeout", errors.ErrInvalidConfig),
			"advisory", "Validate", "timeout check")
	}
	return nil
}

// Client posts requests to the advisory endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger.With("component", "advisory")}, nil
}

// Advise sends req and returns the advised speed. Network errors and 5xx
// replies are retried; 4xx replies, malformed bodies and non-positive speeds
// are not.
func (c *Client) Advise(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, errors.WrapInvalid(err, "advisory", "Advise", "validate request")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.WrapInvalid(err, "advisory", "Advise", "encode request")
	}

	attempt := 0
	resp, err := retry.DoWithResult(ctx, c.cfg.Retry, func() (Response, error) {
		attempt++
		r, err := c.post(ctx, body)
		if err != nil && !retry.IsPermanent(err) {
			c.logger.Debug("Advisory attempt failed", "attempt", attempt, "error", err)
		}
		return r, err
	})
	if err != nil {
		var pe *retry.PermanentError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		if errors.IsInvalid(err) {
			return Response{}, err
		}
		return Response{}, errors.WrapTransient(err, "advisory", "Advise", "request advice")
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, body []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxReplyBytes))
	if err != nil {
		return Response{}, err
	}

	switch {
	case httpResp.StatusCode >= 500:
		return Response{}, fmt.Errorf("advisory service unavailable: HTTP %d", httpResp.StatusCode)
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		return Response{}, retry.Permanent(errors.WrapInvalid(
			fmt.Errorf("%w: HTTP %d", errors.ErrMalformedReply, httpResp.StatusCode),
			"advisory", "post", "check status"))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, retry.Permanent(errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedReply, err), "advisory", "post", "decode reply"))
	}
	if math.IsNaN(out.AdjustedScanningSpeed) || math.IsInf(out.AdjustedScanningSpeed, 0) || out.AdjustedScanningSpeed <= 0 {
		return Response{}, retry.Permanent(errors.WrapInvalid(
			fmt.Errorf("%w: speed %v", errors.ErrMalformedReply, out.AdjustedScanningSpeed),
			"advisory", "post", "check speed"))
	}
	return out, nil
}
