package artifacts

import (
	"context"
	"testing"

	"github.com/trovehq/trove/pkg/blob"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("removes unreferenced blobs and keeps referenced ones", func(t *testing.T) {
		f := newFixture(t)
		referenced := []byte("still in use")
		if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "doc"}, referenced); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		// Simulate a blob whose metadata commit never happened.
		orphanHash, err := f.blobs.Put(ctx, []byte("orphaned"))
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		sweeper := NewSweeper(f.store, f.blobs, nil)
		removed, err := sweeper.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("expected 1 removal, got %d", removed)
		}
		if ok, _ := f.blobs.Exists(ctx, orphanHash); ok {
			t.Error("orphan blob survived the sweep")
		}
		if ok, _ := f.blobs.Exists(ctx, blob.HashBytes(referenced)); !ok {
			t.Error("referenced blob was swept")
		}
	})

	t.Run("empty store sweeps cleanly", func(t *testing.T) {
		f := newFixture(t)
		sweeper := NewSweeper(f.store, f.blobs, nil)
		removed, err := sweeper.Sweep(ctx)
		if err != nil || removed != 0 {
			t.Errorf("expected clean no-op sweep, got removed=%d err=%v", removed, err)
		}
	})

	t.Run("cancelled context aborts the sweep", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.blobs.Put(ctx, []byte("some blob")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		sweeper := NewSweeper(f.store, f.blobs, nil)
		if _, err := sweeper.Sweep(cancelled); err == nil {
			t.Error("expected an error from a cancelled sweep")
		}
	})

	t.Run("invalid schedule is rejected", func(t *testing.T) {
		f := newFixture(t)
		sweeper := NewSweeper(f.store, f.blobs, nil)
		if err := sweeper.Start("not a cron expression"); err == nil {
			t.Error("expected an error for an invalid schedule")
		}
	})
}
