// Package apierr provides the JSON error envelope returned by the HTTP API.
//
// Messages never carry upstream details; the structured cause is logged by
// the caller.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeProviderError  = "provider_error"
	TypeRateLimitError = "rate_limit_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeServerError    = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded   = "rate_limit_exceeded"
	CodeInternalError       = "internal_error"
	CodeProviderError       = "provider_error"
	CodeProviderRejected    = "provider_rejected"
	CodeProviderUnavailable = "provider_unavailable"
	CodeRequestTimeout      = "request_timeout"
	CodeRequestCanceled     = "request_canceled"
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
)

// StatusClientClosedRequest is returned when the caller went away first.
const StatusClientClosedRequest = 499

type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteStatus writes the generic error for a gateway status code:
//
//	400 invalid request
//	422 provider rejected the request
//	499 client closed the request
//	502 provider request failed
//	503 provider unavailable or not configured
//	504 provider request timed out
func WriteStatus(ctx *fasthttp.RequestCtx, status int) {
	switch status {
	case fasthttp.StatusBadRequest:
		Write(ctx, status, "invalid request", TypeInvalidRequest, CodeInvalidRequest)
	case fasthttp.StatusUnprocessableEntity:
		Write(ctx, status, "the provider rejected the request", TypeProviderError, CodeProviderRejected)
	case StatusClientClosedRequest:
		Write(ctx, status, "request canceled", TypeInvalidRequest, CodeRequestCanceled)
	case fasthttp.StatusServiceUnavailable:
		Write(ctx, status, "provider unavailable", TypeProviderError, CodeProviderUnavailable)
	case fasthttp.StatusGatewayTimeout:
		WriteTimeout(ctx)
	case fasthttp.StatusBadGateway:
		Write(ctx, status, "provider request failed", TypeProviderError, CodeProviderError)
	default:
		Write(ctx, fasthttp.StatusInternalServerError, "internal server error", TypeServerError, CodeInternalError)
	}
}

// WriteInvalid writes a 400 with a caller-safe message.
func WriteInvalid(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message, TypeInvalidRequest, CodeInvalidRequest)
}

func WriteNotFound(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusNotFound, message, TypeInvalidRequest, CodeNotFound)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}
