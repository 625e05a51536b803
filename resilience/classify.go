package resilience

import (
	"errors"
	"net"
	"slices"
	"strings"
	"syscall"
)

// Well-known transient error codes.
const (
	CodeConnReset = "ECONNRESET"
	CodeTimedOut  = "ETIMEDOUT"
	CodeNotFound  = "ENOTFOUND"
	CodeDNSAgain  = "EAI_AGAIN"
)

// Classifier reports whether err is transient and worth another attempt.
type Classifier func(err error) bool

// transientMarkers are matched against the lowercased error message.
var transientMarkers = []string{"timeout", "network", "connection", "econnreset", "503", "504"}

// DefaultClassifier treats an error as retryable when its code is one of codes
// or its message mentions a timeout, network or connection problem, or a 503/504.
func DefaultClassifier(codes []string) Classifier {
	codes = slices.Clone(codes)
	return func(err error) bool {
		if err == nil {
			return false
		}
		if code := ErrorCode(err); code != "" && slices.Contains(codes, code) {
			return true
		}
		msg := strings.ToLower(err.Error())
		for _, marker := range transientMarkers {
			if strings.Contains(msg, marker) {
				return true
			}
		}
		return false
	}
}

// ErrorCode extracts a code from err. Errors implementing Coder win; otherwise
// common network failures map onto their POSIX/getaddrinfo names.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coder Coder
	if errors.As(err, &coder) {
		if code := coder.Code(); code != "" {
			return code
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return CodeNotFound
		case dnsErr.IsTemporary, dnsErr.IsTimeout:
			return CodeDNSAgain
		}
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnReset
	case errors.Is(err, syscall.ETIMEDOUT):
		return CodeTimedOut
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut
	}
	return ""
}
