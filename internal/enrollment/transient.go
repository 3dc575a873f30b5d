package enrollment

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/book-expert/voice-service/internal/core"
)

const connectionResetText = "connection reset by peer"

// IsTransient reports whether a registration failure is worth repeating:
// the connection was reset or the attempt ran out of time. Service
// rejections are never transient. Callers must also check that their own
// context is still live, since a cancelled parent produces the same errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(err.Error(), connectionResetText)
}
