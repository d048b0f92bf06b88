package overlay

import (
	"context"
	"time"

	"github.com/sells-group/persistence-cli/internal/model"
	"github.com/sells-group/persistence-cli/internal/resilience"
)

// Backend is the set of operations the persistence engine needs from a
// geospatial backend.
type Backend interface {
	Buffer(ctx context.Context, slice model.TimeSlice, distance int) (model.TimeSlice, error)
	Overlay(ctx context.Context, focal model.TimeSlice, others []model.TimeSlice) ([]model.OverlapGroup, error)
	CountByKey(ctx context.Context, groups []model.OverlapGroup, slice string) (map[string]int, error)
}

// RetryOptions configures a Retrying backend.
type RetryOptions struct {
	// Timeout bounds each individual call. Zero means no timeout.
	Timeout time.Duration

	Retry resilience.RetryConfig
}

// Retrying wraps a Backend so that every call is cancellable, bounded by
// a timeout and retried on transient failure.
type Retrying struct {
	next Backend
	opts RetryOptions
}

// WithRetry wraps next.
func WithRetry(next Backend, opts RetryOptions) *Retrying {
	return &Retrying{next: next, opts: opts}
}

func (r *Retrying) retry(op string) resilience.RetryConfig {
	cfg := r.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("overlay", op)
	}
	return cfg
}

func (r *Retrying) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.Timeout)
}

// Buffer calls the wrapped Buffer.
func (r *Retrying) Buffer(ctx context.Context, slice model.TimeSlice, distance int) (model.TimeSlice, error) {
	return resilience.DoVal(ctx, r.retry("buffer"), func(ctx context.Context) (model.TimeSlice, error) {
		cctx, cancel := r.withTimeout(ctx)
		defer cancel()
		return r.next.Buffer(cctx, slice, distance)
	})
}

// Overlay calls the wrapped Overlay.
func (r *Retrying) Overlay(ctx context.Context, focal model.TimeSlice, others []model.TimeSlice) ([]model.OverlapGroup, error) {
	return resilience.DoVal(ctx, r.retry("overlay"), func(ctx context.Context) ([]model.OverlapGroup, error) {
		cctx, cancel := r.withTimeout(ctx)
		defer cancel()
		return r.next.Overlay(cctx, focal, others)
	})
}

// CountByKey calls the wrapped CountByKey.
func (r *Retrying) CountByKey(ctx context.Context, groups []model.OverlapGroup, slice string) (map[string]int, error) {
	return resilience.DoVal(ctx, r.retry("count_by_key"), func(ctx context.Context) (map[string]int, error) {
		cctx, cancel := r.withTimeout(ctx)
		defer cancel()
		return r.next.CountByKey(cctx, groups, slice)
	})
}
