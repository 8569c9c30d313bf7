// Package httpclient wraps outbound HTTP calls with bounded retry and
// exponential backoff.
package httpclient

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxAttempts     = 4
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// Caller issues a logical HTTP call, retrying transient failures (transport
// errors, 5xx, rate limits) with exponential backoff and jitter. Definitive
// client errors are returned on the first attempt.
type Caller struct {
	client      *http.Client
	maxAttempts uint64
	initial     time.Duration
	logger      *zerolog.Logger
}

// New returns a Caller over client. timeout bounds each individual attempt;
// maxAttempts <= 0 selects the default.
func New(client *http.Client, timeout time.Duration, maxAttempts int, logger *zerolog.Logger) *Caller {
	if client == nil {
		client = &http.Client{}
	}

	if timeout > 0 {
		client.Timeout = timeout
	}

	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Caller{
		client:      client,
		maxAttempts: uint64(maxAttempts),
		initial:     defaultInitialInterval,
		logger:      logger,
	}
}

// Client exposes the underlying http.Client, for libraries that take one
// (the oauth2 token source does).
func (c *Caller) Client() *http.Client {
	return c.client
}

// Do performs the request, replaying the body on retry via req.GetBody.
// The returned response's body is open on success; on failure the final
// error is returned, not the intermediate attempts.
func (c *Caller) Do(req *http.Request) (*http.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initial
	policy.MaxInterval = defaultMaxInterval

	var resp *http.Response

	operation := func() error {
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(errors.Wrap(err, "failed to rewind request body"))
			}

			req.Body = body
		}

		var err error

		resp, err = c.client.Do(req) //nolint:bodyclose // closed below or by the caller
		if err != nil {
			c.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("request failed, will retry")
			return err
		}

		if retryable(resp.StatusCode) {
			resp.Body.Close()
			c.logger.Debug().Int("status", resp.StatusCode).Str("url", req.URL.String()).Msg("retryable status")

			return errors.Errorf("server returned status %d", resp.StatusCode)
		}

		return nil
	}

	err := backoff.Retry(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.maxAttempts-1), req.Context()),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s failed after %d attempts", req.Method, req.URL.String(), c.maxAttempts)
	}

	return resp, nil
}

func retryable(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}
