// Package batch runs one operation over many items with bounded concurrency and
// collects per-item outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/tstromberg/iptcgen/pkg/metrics"
)

// ErrTotalFailure is returned when a non-empty batch produced no successes.
var ErrTotalFailure = errors.New("every item in the batch failed")

// Status is the lifecycle position of a batch item.
type Status string

const (
	Idle    Status = "idle"
	Pending Status = "pending"
	Success Status = "success"
	Failed  Status = "error"
)

// Run calls work for every item using at most n concurrent workers and returns the
// results in input order. Workers claim items through a shared atomic cursor, so each
// item is processed exactly once.
func Run[T, R any](items []T, n int, work func(i int, item T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	n = max(1, min(n, len(items)))

	var cursor atomic.Int64
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				results[i] = work(i, items[i])
			}
		})
	}
	// workers report failures through their results, never through the group
	_ = g.Wait()
	return results
}

// Outcome is the terminal state of one item.
type Outcome[R any] struct {
	Index  int
	Status Status
	Value  R
	Err    error
}

// Summary counts outcomes.
type Summary struct {
	Succeeded int
	Failed    int
}

// Partial reports whether some, but not all, items failed.
func (s Summary) Partial() bool {
	return s.Failed > 0 && s.Succeeded > 0
}

func (s Summary) String() string {
	return fmt.Sprintf("%d succeeded, %d failed", s.Succeeded, s.Failed)
}

// Options tunes Process.
type Options struct {
	// Concurrency is the worker ceiling.
	Concurrency int
	// Kind labels metrics, e.g. "write" or "upload".
	Kind    string
	Metrics *metrics.Metrics
	// OnDone is called after each item finishes, from the worker goroutine.
	OnDone func(done int, total int)
}

// Process runs work over items. A failing item never stops its siblings; its error is
// recorded in its Outcome. The returned error is ErrTotalFailure when every item failed.
func Process[T, R any](ctx context.Context, items []T, o Options, work func(ctx context.Context, item T) (R, error)) ([]Outcome[R], Summary, error) {
	var done atomic.Int64
	outs := Run(items, o.Concurrency, func(i int, item T) Outcome[R] {
		v, err := protect(ctx, item, work)
		o.Metrics.ObserveItem(o.Kind, err)
		if o.OnDone != nil {
			o.OnDone(int(done.Add(1)), len(items))
		}
		if err != nil {
			klog.Errorf("%s item %d failed: %v", kindOr(o.Kind), i, err)
			return Outcome[R]{Index: i, Status: Failed, Err: err}
		}
		return Outcome[R]{Index: i, Status: Success, Value: v}
	})

	var s Summary
	for _, out := range outs {
		if out.Status == Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	if len(items) > 0 && s.Succeeded == 0 {
		return outs, s, fmt.Errorf("%d items: %w", len(items), ErrTotalFailure)
	}
	return outs, s, nil
}

// protect turns a panic inside work into an item error.
func protect[T, R any](ctx context.Context, item T, work func(context.Context, T) (R, error)) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx, item)
}

func kindOr(k string) string {
	if k == "" {
		return "batch"
	}
	return k
}
