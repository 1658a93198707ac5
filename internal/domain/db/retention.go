package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/appstronomer/umon/internal/domain/model"
)

const (
	retentionBackoffStart = time.Second
	retentionBackoffCap   = time.Minute
)

// retentionScheduler retries a failed trim for a given unit with capped
// exponential backoff (1s -> 1m) instead of logging and dropping it, per the
// Open Question resolution in SPEC_FULL.md §9. One gobreaker circuit breaker,
// shared by all units, wraps the trim attempts: after three consecutive
// failed trims (of any units) it opens and skips attempts for a cooldown
// instead of hot-looping timers against a failing store.
//
// trim mutates unitState (us.count) and must only ever run on the DB actor's
// own goroutine. The first attempt runs inline from runRetention, which is
// already on that goroutine; every retry after that is scheduled off a timer
// goroutine, so it is posted back through requeue (the actor's inbox)
// instead of calling attempt directly, the same re-entry pattern comm's
// heartbeat retry uses.
type retentionScheduler struct {
	log     *slog.Logger
	trim    func(ctx context.Context, us *unitState) error
	cb      *gobreaker.CircuitBreaker
	requeue func(fn func(ctx context.Context))
}

func newRetentionScheduler(log *slog.Logger, trim func(ctx context.Context, us *unitState) error, requeue func(fn func(ctx context.Context))) *retentionScheduler {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "db-retention-trim",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     retentionBackoffCap,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("retention circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &retentionScheduler{log: log, trim: trim, cb: cb, requeue: requeue}
}

// schedule attempts a trim immediately and, on failure, reschedules itself
// with backoff that doubles each attempt starting at retentionBackoffStart
// and capped at retentionBackoffCap. Call only from the DB actor's goroutine.
func (r *retentionScheduler) schedule(ctx context.Context, g model.Group, u model.Unit, us *unitState) {
	r.attempt(ctx, g, u, us, retentionBackoffStart)
}

// attempt must only run on the DB actor's own goroutine.
func (r *retentionScheduler) attempt(ctx context.Context, g model.Group, u model.Unit, us *unitState, backoff time.Duration) {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.trim(ctx, us)
	})
	if err == nil {
		return
	}
	r.log.Warn("retention trim failed, retrying with backoff",
		"group", string(g), "unit", string(u), "backoff", backoff, "error", err)

	next := backoff * 2
	if next > retentionBackoffCap {
		next = retentionBackoffCap
	}
	time.AfterFunc(backoff, func() {
		r.requeue(func(ctx context.Context) {
			r.attempt(ctx, g, u, us, next)
		})
	})
}
