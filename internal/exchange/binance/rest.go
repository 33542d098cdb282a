package binance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"exchange-core/internal/core"
	"exchange-core/internal/logger"
)

const (
	healthREST = "rest"
	// Longer server-requested pauses fail the call instead of stalling it.
	maxRetryAfter = 30 * time.Second
)

type request struct {
	method string
	path   string
	params url.Values
	weight int
	signed bool
}

// retryPacing hands backoff.Retry the wait chosen for the last failure.
type retryPacing struct {
	wait time.Duration
}

func (p *retryPacing) NextBackOff() time.Duration { return p.wait }

func (p *retryPacing) Reset() { p.wait = 0 }

// execute runs req under the retry policy and decodes the body of the first
// successful attempt. It never returns a Go error; every failure is carried
// in the Result.
func execute[T any](ctx context.Context, c *Client, req request, decode func([]byte) (T, error)) core.Result[T] {
	start := time.Now()
	log := c.log.WithFields(logger.Fields{"method": req.method, "path": req.path})

	if req.signed {
		if c.signer == nil {
			return core.Fail[T](core.NewCredentialsMissingError(), time.Since(start))
		}
		c.ensureTimeSynced(ctx)
	}

	pacing := &retryPacing{}
	rateLimited := 0
	attempts := 0
	operation := func() (T, error) {
		var zero T
		attempts++
		body, retryAfter, apiErr := c.roundTrip(ctx, req)
		if apiErr == nil {
			v, err := decode(body)
			if err != nil {
				return zero, backoff.Permanent(core.NewDecodeError(err))
			}
			return v, nil
		}

		switch {
		case errors.Is(apiErr, core.ErrIPBanned):
			return zero, backoff.Permanent(apiErr)
		case apiErr.Kind == core.KindTransport:
			if req.method != http.MethodGet || ctx.Err() != nil {
				return zero, backoff.Permanent(apiErr)
			}
			pacing.wait = c.retryWait
		case apiErr.Code == core.CodeClockSkew && req.signed:
			c.syncTime(ctx)
			pacing.wait = 0
		case errors.Is(apiErr, core.ErrRateLimited):
			wait := retryAfter
			if wait <= 0 {
				wait = c.retryWait << rateLimited
			}
			if wait > maxRetryAfter {
				return zero, backoff.Permanent(apiErr)
			}
			rateLimited++
			pacing.wait = wait
		case apiErr.HTTPStatus >= 500:
			pacing.wait = 0
		default:
			return zero, backoff.Permanent(apiErr)
		}
		return zero, apiErr
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(pacing),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.WithEvent("rest_retry").WithError(err).
				WithField("attempt", attempts).
				WithField("wait_ms", wait.Milliseconds()).
				Warn("retrying request")
		}),
	)
	elapsed := time.Since(start)
	if err != nil {
		var apiErr *core.APIError
		if !errors.As(err, &apiErr) {
			apiErr = core.NewTransportError(err)
		}
		c.setLastError(req.path, apiErr)
		log.WithEvent("rest_call_failed").WithError(apiErr).
			WithField("attempts", attempts).
			WithField("elapsed_ms", elapsed.Milliseconds()).
			Warn("request failed")
		return core.Fail[T](apiErr, elapsed)
	}
	log.WithEvent("rest_call").
		WithField("attempts", attempts).
		WithField("weight", req.weight).
		WithField("elapsed_ms", elapsed.Milliseconds()).
		Debug("request ok")
	return core.OK(data, elapsed)
}

// roundTrip performs a single HTTP exchange. Signed requests are stamped and
// signed again on every call so a retry never reuses a timestamp.
func (c *Client) roundTrip(ctx context.Context, req request) ([]byte, time.Duration, *core.APIError) {
	query := url.Values{}
	for k, vs := range req.params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if req.signed {
		if c.recvWindow > 0 {
			query.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
		query.Set("timestamp", strconv.FormatInt(c.clock.Next(), 10))
	}
	encoded := query.Encode()
	rawQuery := encoded
	if req.signed {
		sig := c.signer.Sign(encoded)
		if rawQuery != "" {
			rawQuery += "&"
		}
		rawQuery += "signature=" + sig
	}

	endpoint := c.baseURL + req.path
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, nil)
	if err != nil {
		return nil, 0, core.NewTransportError(err)
	}
	if req.signed {
		httpReq.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil {
			c.health.RecordFailure(healthREST, err)
		}
		c.log.WithEvent("rest_transport_error").WithError(err).
			WithField("path", req.path).
			WithField("query", encoded).
			Debug("request not delivered")
		return nil, 0, core.NewTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == nil {
			c.health.RecordFailure(healthREST, err)
		}
		return nil, 0, core.NewTransportError(err)
	}
	c.health.RecordSuccess(healthREST)
	if path, err := c.dumper.Dump(req.path, body); err != nil {
		c.log.WithEvent("response_dump_failed").WithError(err).Warn("dump failed")
	} else if path != "" {
		c.log.WithEvent("response_dumped").WithField("file", path).Debug("response dumped")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.weights.ObserveHeaders(resp.Header)
		return nil, parseRetryAfter(resp.Header, c.now()), parseAPIError(resp.StatusCode, body)
	}
	c.weights.RecordUsage(req.weight)
	c.weights.ObserveHeaders(resp.Header)

	if strings.HasPrefix(req.path, "/wapi/") {
		if apiErr := parseWAPIFailure(resp.StatusCode, body); apiErr != nil {
			return nil, 0, apiErr
		}
	}
	return body, 0, nil
}

type wapiStatus struct {
	Success *bool  `json:"success"`
	Msg     string `json:"msg"`
}

// parseWAPIFailure maps the wapi convention of HTTP 200 with success=false.
func parseWAPIFailure(status int, body []byte) *core.APIError {
	var st wapiStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil
	}
	if st.Success == nil || *st.Success {
		return nil
	}
	msg := st.Msg
	if msg == "" {
		msg = "request rejected"
	}
	return classifyAPIError(status, wapiCodeRejected, msg)
}

func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
