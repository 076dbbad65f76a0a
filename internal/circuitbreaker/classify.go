package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"os"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// Weight maps a generation error to its breaker weight. Timeouts weigh more
// than plain upstream failures; client-side rejections do not count against
// the route at all.
//
//	nil                   -> 0
//	timeout               -> 1.5
//	429 upstream          -> 0.5
//	5xx upstream          -> 1.0
//	other 4xx             -> 0
//	network / unknown     -> 1.0
func Weight(err error) float64 {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}

	var ge *gateway.GatewayError
	if errors.As(err, &ge) {
		switch {
		case ge.Status == 429:
			return 0.5
		case ge.Status >= 500:
			return 1.0
		default:
			return 0
		}
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return 1.0
	}
	return 1.0
}
