// Package netx classifies transport failures of outbound HTTP calls.
package netx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// IsConnectivityError reports whether err means the server could not be
// reached or did not answer in time, as opposed to a protocol-level failure.
func IsConnectivityError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// IsRetryableStatus reports whether an HTTP status signals a transient
// server-side condition.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return code >= 500
}
