package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// maxErrorBody bounds how much of a failed response body is read before it is closed.
const maxErrorBody = 4096

// StatusError is raised by Fetch for responses with a server-error status.
type StatusError struct {
	StatusCode int
	Status     string
	Method     string
	URL        string
	// ErrCode is the "code" (or "error.code") string of a JSON error body, if any.
	ErrCode string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http %s", e.Status)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Code implements Coder
func (e *StatusError) Code() string { return e.ErrCode }

// Fetch sends req through e. Responses with status >= 500 count as failed
// attempts and are always retried; any other response is returned as-is.
// Once retries are exhausted the last *StatusError is returned.
func (e *Executor) Fetch(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, ErrBodyNotReplayable
	}
	if client == nil {
		client = http.DefaultClient
	}

	retryable := func(err error) bool {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return true
		}
		return e.retryable(err)
	}

	return run(ctx, e, retryable, func() (*http.Response, error) {
		out := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			out.Body = body
		}

		resp, err := client.Do(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		return nil, newStatusError(req, resp)
	})
}

// Fetch sends req with a one-off executor built from policy
func Fetch(ctx context.Context, client *http.Client, req *http.Request, policy Policy, opts ...Option) (*http.Response, error) {
	e, err := NewExecutor(policy, opts...)
	if err != nil {
		return nil, err
	}
	return e.Fetch(ctx, client, req)
}

// newStatusError drains and closes resp so the connection can be reused.
func newStatusError(req *http.Request, resp *http.Response) *StatusError {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Method:     req.Method,
		URL:        req.URL.String(),
		ErrCode:    bodyErrorCode(body),
	}
}

func bodyErrorCode(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"code", "error.code"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String {
			return r.String()
		}
	}
	return ""
}
