package services

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrMissingAPIKey is returned when no DeepSeek key is configured.
var ErrMissingAPIKey = errors.New("deepseek: API key is not configured")

// TLSError reports a failed TLS handshake or certificate verification.
type TLSError struct{ Err error }

func (e *TLSError) Error() string { return "deepseek: TLS failure: " + e.Err.Error() }
func (e *TLSError) Unwrap() error { return e.Err }

// TimeoutError reports that the upstream did not answer in time on the
// final attempt, or the request budget ran out.
type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return "deepseek: timeout: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

// UpstreamError covers every other HTTP or network failure talking to the
// provider. Detail is safe to show to the caller.
type UpstreamError struct {
	Detail string
	Err    error
}

func (e *UpstreamError) Error() string { return "deepseek: " + e.Detail }
func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	StatusCode int
	Message    string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// RetryAfter exposes the provider's Retry-After header to the retry policy.
func (e *StatusError) RetryAfter() time.Duration { return e.retryAfter }

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// isRetryable decides whether a failed attempt may be tried again.
func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus[statusErr.StatusCode]
	}
	if errors.Is(err, context.Canceled) || isTLSError(err) {
		return false
	}
	return isTimeout(err) || isConnectionError(err)
}

// classify converts the final attempt error into the typed errors handlers
// map onto status codes. Errors it does not recognise are returned as is.
func classify(err error) error {
	var statusErr *StatusError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMissingAPIKey):
		return err
	case isTLSError(err):
		return &TLSError{Err: err}
	case isTimeout(err):
		return &TimeoutError{Err: err}
	case errors.As(err, &statusErr):
		return &UpstreamError{Detail: statusErr.Error(), Err: err}
	case isConnectionError(err), errors.Is(err, context.Canceled):
		return &UpstreamError{Detail: innermost(err).Error(), Err: err}
	default:
		return err
	}
}

func isTLSError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		systemRoots  x509.SystemRootsError
		insecureAlgo x509.InsecureAlgorithmError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &systemRoots) ||
		errors.As(err, &insecureAlgo)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// innermost strips url.Error style wrappers so the caller-facing detail
// names the cause rather than repeating the endpoint URL.
func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
