package binance

import (
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"exchange-core/internal/core"
)

const (
	apiCodeTooManyRequests    = -1003
	apiCodeInvalidTimestamp   = -1021
	apiCodeInvalidSignature   = -1022
	apiCodeBadSymbol          = -1121
	apiCodeBadAPIKeyFormat    = -2014
	apiCodeRejectedMBXKey     = -2015
	wapiCodeRejected          = -1
	maxErrorBodyInMessageSize = 512
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// parseAPIError turns a non-2xx response into an APIError. Bodies without the
// exchange's {code,msg} shape are classified by HTTP status alone.
func parseAPIError(status int, body []byte) *core.APIError {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || (e.Code == 0 && e.Msg == "") {
		return core.NewHTTPError(status, truncate(strings.TrimSpace(string(body))))
	}
	return classifyAPIError(status, e.Code, e.Msg)
}

func classifyAPIError(status, code int, msg string) *core.APIError {
	return core.NewExchangeError(status, code, msg, classifyAPIErrorKinds(status, code)...)
}

// classifyAPIErrorKinds maps the codes the market and account reads can
// return. Other codes keep only their HTTP status class.
func classifyAPIErrorKinds(status, code int) []error {
	kinds := make([]error, 0, 2)

	// 418 carries -1003 as well; the ban outranks the limit.
	if status == http.StatusTeapot {
		kinds = appendErrorKind(kinds, core.ErrIPBanned)
	}
	switch code {
	case apiCodeInvalidTimestamp:
		kinds = appendErrorKind(kinds, core.ErrClockSkew)
	case apiCodeTooManyRequests:
		kinds = appendErrorKind(kinds, core.ErrRateLimited)
	case apiCodeBadSymbol:
		kinds = appendErrorKind(kinds, core.ErrInvalidSymbol)
	case apiCodeInvalidSignature, apiCodeBadAPIKeyFormat, apiCodeRejectedMBXKey:
		kinds = appendErrorKind(kinds, core.ErrUnauthorized)
	}
	switch {
	case status == http.StatusTooManyRequests:
		kinds = appendErrorKind(kinds, core.ErrRateLimited)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kinds = appendErrorKind(kinds, core.ErrUnauthorized)
	case status >= 500:
		kinds = appendErrorKind(kinds, core.ErrServerError)
	}
	return kinds
}

func appendErrorKind(kinds []error, kind error) []error {
	if kind == nil {
		return kinds
	}
	for _, existing := range kinds {
		if existing == kind {
			return kinds
		}
	}
	return append(kinds, kind)
}

func truncate(s string) string {
	if len(s) <= maxErrorBodyInMessageSize {
		return s
	}
	return s[:maxErrorBodyInMessageSize] + "..."
}
