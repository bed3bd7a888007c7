package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// retryablePatterns are substrings of wrapped errors from the HTTP client,
// the Postgres driver, and SQLite that indicate a condition worth retrying.
// Everything else (bad input, constraint violations, parse failures) is
// treated as permanent.
var retryablePatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"database is locked",   // SQLite writer contention past busy_timeout
	"too many connections", // Postgres pool exhaustion
	"the database system is starting up",
}

// IsTransient reports whether err looks like a passing condition (network
// trouble, a busy database) rather than a failure that will repeat on every
// attempt. It is the default retry predicate and drives the dead letter
// queue's transient/permanent split.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
