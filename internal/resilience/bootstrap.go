package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

// Bootstrap budget. Doubling from the base delay, the full budget spans
// roughly eight seconds of startup — long enough for a broker container to
// come up alongside the scheduler, short enough that a misconfigured URL
// fails the process promptly.
var (
	bootstrapAttempts  = 5
	bootstrapBaseDelay = 500 * time.Millisecond
)

// Bootstrap dials an external collaborator during process startup, retrying
// with doubling, jittered delays until the connection succeeds or the budget
// is spent. It exists for exactly one kind of caller — connection bootstrap
// in cmd/kronos-scheduler — because the scheduling core itself retries
// nothing: a failed task submission becomes FAILED(TASK_SUBMISSION_FAILED),
// never a re-send.
func Bootstrap(ctx context.Context, target string, connect func() error) error {
	dials, _ := otel.Meter("kronos-scheduler").Int64Counter("kronos_bootstrap_dials_total")

	delay := bootstrapBaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		dials.Add(ctx, 1)
		if err = connect(); err == nil {
			return nil
		}
		if attempt == bootstrapAttempts {
			return err
		}
		slog.Warn("connection bootstrap failed, will retry",
			"target", target, "attempt", attempt, "error", err)

		// Half fixed, half jittered, so schedulers restarted together don't
		// redial in lockstep.
		sleep := delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
	}
}
