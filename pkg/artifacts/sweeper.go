package artifacts

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/trovehq/trove/pkg/blob"
	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/storage"
)

// ListableStore is a blob store that can enumerate its contents. The
// filesystem store implements it; stores that cannot enumerate cheaply
// simply run without a sweeper.
type ListableStore interface {
	blob.Store
	Hashes(ctx context.Context) ([]string, error)
}

// Sweeper reclaims orphaned blobs: content written during a create or
// update whose metadata commit then failed, or left behind by a blob delete
// failure during Remove. A blob is an orphan when no artifact history entry
// references its hash.
type Sweeper struct {
	store   storage.MetadataStore
	blobs   ListableStore
	log     *slog.Logger
	cron    *cron.Cron
	timeout time.Duration

	sweeps prometheus.Counter
	swept  prometheus.Counter
}

// NewSweeper creates a sweeper over the given stores.
func NewSweeper(store storage.MetadataStore, blobs ListableStore, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:   store,
		blobs:   blobs,
		log:     log,
		timeout: 10 * time.Minute,
	}
}

// WithCounters attaches sweep counters: completed sweeps and blobs
// reclaimed.
func (s *Sweeper) WithCounters(sweeps, swept prometheus.Counter) *Sweeper {
	s.sweeps = sweeps
	s.swept = swept
	return s
}

// Sweep walks every stored blob and deletes those with zero metadata
// references. Returns the number of blobs removed. A reference-count
// failure skips that blob rather than aborting the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	hashes, err := s.blobs.Hashes(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, hash := range hashes {
		if err := ctx.Err(); err != nil {
			return removed, errs.WrapOperation(err, "sweep aborted after %d removals", removed)
		}
		refs, err := s.store.CountHashReferences(ctx, hash)
		if err != nil {
			s.log.WarnContext(ctx, "sweep reference count failed", "hash", hash, "error", err)
			continue
		}
		if refs > 0 {
			continue
		}
		if err := s.blobs.Delete(ctx, hash); err != nil {
			s.log.WarnContext(ctx, "sweep delete failed", "hash", hash, "error", err)
			continue
		}
		removed++
	}

	if s.sweeps != nil {
		s.sweeps.Inc()
		s.swept.Add(float64(removed))
	}
	s.log.InfoContext(ctx, "blob sweep complete", "scanned", len(hashes), "removed", removed)
	return removed, nil
}

// Start schedules recurring sweeps with the given cron expression.
func (s *Sweeper) Start(schedule string) error {
	if s.cron != nil {
		return errs.NewOperation("sweeper already started")
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("scheduled blob sweep failed", "error", err)
		}
	})
	if err != nil {
		return errs.WrapOperation(err, "invalid sweep schedule %q", schedule)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts scheduled sweeps, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}
