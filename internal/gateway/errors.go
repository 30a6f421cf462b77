package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nulpointcorp/llm-dashboard/internal/providers"
)

// Kind classifies a failed Generate call.
type Kind int

const (
	InvalidRequest Kind = iota + 1
	ProviderUnconfigured
	Timeout
	TransportError
	ProviderRejected
	ProviderUnavailable
	Canceled
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case ProviderUnconfigured:
		return "provider_unconfigured"
	case Timeout:
		return "timeout"
	case TransportError:
		return "transport_error"
	case ProviderRejected:
		return "provider_rejected"
	case ProviderUnavailable:
		return "provider_unavailable"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the kind onto the status code returned by the HTTP layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidRequest:
		return http.StatusBadRequest
	case ProviderUnconfigured, ProviderUnavailable:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	case ProviderRejected:
		return http.StatusUnprocessableEntity
	case Canceled:
		return 499
	default:
		return http.StatusBadGateway
	}
}

// GatewayError is the only error type returned by Gateway.Generate.
type GatewayError struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway: %s (provider=%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// HTTPStatus implements providers.StatusCoder.
func (e *GatewayError) HTTPStatus() int { return e.Kind.HTTPStatus() }

// KindOf extracts the Kind of err. The second result is false when err is
// not a *GatewayError.
func KindOf(err error) (Kind, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}

func newError(kind Kind, provider string, format string, args ...any) *GatewayError {
	return &GatewayError{Kind: kind, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// classify turns a transport failure into a GatewayError. callCtx is the
// context the transport ran under; its deadline is authoritative even when
// the SDK wraps the cause in something errors.Is cannot see through.
func classify(provider string, callCtx context.Context, err error) *GatewayError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &GatewayError{Kind: Timeout, Provider: provider, Err: err}
	}

	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return &GatewayError{Kind: ProviderRejected, Provider: provider, Err: err}
		}
	}

	return &GatewayError{Kind: TransportError, Provider: provider, Err: err}
}
