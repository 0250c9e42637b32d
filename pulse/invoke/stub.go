package invoke

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/mise/logger"
)

// StubHandler waits for delay and logs the target. It stands in for targets
// that have no real handler yet. Cancelling ctx cuts the wait short and fails
// the invocation.
func StubHandler(delay time.Duration, log *zap.SugaredLogger) HandlerFunc {
	log = logger.Or(log)
	return func(ctx context.Context, target Target) error {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		log.Infow("Invoked target",
			logger.FieldTarget, target.String(),
			logger.FieldMethod, target.Method,
			"parameters", target.Parameters)
		return nil
	}
}
