package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// StatusError is an upstream response counted as a failed attempt.
type StatusError struct {
	StatusCode int
	Status     string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %s", e.Status)
}

// HTTPClient sends requests through a breaker with bounded retries and a
// timeout per attempt. Only 5xx and 429 are retried; any other response is
// handed back with its body already read into memory.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
}

// Do runs req until it succeeds, attempts run out, the breaker refuses, or
// ctx ends. Request bodies are buffered so retries resend the same bytes.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		// a breaker that never trips keeps the accounting uniform
		breaker = NewBreaker(BreakerConfig{Target: req.URL.Host, MinRequests: 1 << 30})
	}
	payload, err := drain(req.Body)
	if err != nil {
		return nil, err
	}

	target := breaker.Target()
	var lastErr error
	for attempt := 1; ; attempt++ {
		if !breaker.Allow(ctx) {
			RemoteAttemptsTotal.WithLabelValues(target, "rejected").Inc()
			return nil, errors.Join(ErrOpenCircuit, lastErr)
		}
		started := time.Now()
		resp, err := cl.send(ctx, req, payload)
		RemoteAttemptSeconds.WithLabelValues(target).Observe(time.Since(started).Seconds())
		switch {
		case err == nil:
			breaker.Report(ctx, true)
			RemoteAttemptsTotal.WithLabelValues(target, "ok").Inc()
			return resp, nil
		case ctx.Err() != nil:
			breaker.release()
			return nil, ctx.Err()
		}
		breaker.Report(ctx, false)
		RemoteAttemptsTotal.WithLabelValues(target, "error").Inc()
		lastErr = err
		if attempt >= cl.MaxAttempts {
			return nil, lastErr
		}
		if err := sleep(ctx, cl.wait(attempt, err)); err != nil {
			return nil, err
		}
	}
}

// wait honours an upstream Retry-After when it asks for more than backoff.
func (cl HTTPClient) wait(attempt int, err error) time.Duration {
	d := Backoff(cl.BaseBackoff, attempt, cl.Jitter)
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > d {
		return se.RetryAfter
	}
	return d
}

func (cl HTTPClient) send(ctx context.Context, req *http.Request, payload []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	out := req.Clone(ctx)
	if payload != nil {
		out.Body = io.NopCloser(bytes.NewReader(payload))
		out.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(payload)), nil }
		out.ContentLength = int64(len(payload))
	}
	resp, err := cl.Client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	// the attempt context dies with this call, so the body is read here
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, 30*time.Second)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func drain(body io.ReadCloser) ([]byte, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}
	defer body.Close()
	return io.ReadAll(body)
}
