// Package stats records goto events off the request path and reports
// aggregate visit counts.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/darkodi/shorts/internal/events"
	"github.com/darkodi/shorts/internal/logger"
	"github.com/darkodi/shorts/internal/model"
	"github.com/darkodi/shorts/internal/task"
)

// DefaultTopLimit is the number of entries reported by GET /api/shorts/goto
const DefaultTopLimit = 10

// Store is the persistence the recorder needs
type Store interface {
	IncrementGotoStat(ctx context.Context, shortID string) error
	TopGotoStats(ctx context.Context, limit int) ([]model.GotoStatTotal, error)
}

// Recorder submits one detached task per visit. Each task makes a single
// attempt; failures are logged and dropped.
type Recorder struct {
	store     Store
	tasks     task.Executor
	publisher events.Publisher
	log       *logger.Logger
	now       func() time.Time
}

// NewRecorder wires the recorder; a nil publisher disables events
func NewRecorder(store Store, tasks task.Executor, publisher events.Publisher, log *logger.Logger) *Recorder {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Recorder{
		store:     store,
		tasks:     tasks,
		publisher: publisher,
		log:       log.Component("stats"),
		now:       time.Now,
	}
}

// RecordGoto counts one visit of shortID without waiting for the write
func (r *Recorder) RecordGoto(shortID, longURL, source string) {
	evt := events.GotoEvent{ShortID: shortID, LongURL: longURL, Source: source, At: r.now().UTC()}

	submitted := r.tasks.Submit("goto_stat", func(ctx context.Context) error {
		// the executor logs whatever is returned
		var errs []error
		if err := r.store.IncrementGotoStat(ctx, shortID); err != nil {
			errs = append(errs, fmt.Errorf("record goto %s: %w", shortID, err))
		}
		if err := r.publisher.Publish(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish goto event %s: %w", shortID, err))
		}
		return errors.Join(errs...)
	})
	if !submitted {
		r.log.Warn("goto not recorded", "short_id", shortID)
	}
}

// Top returns the most visited long URLs
func (r *Recorder) Top(ctx context.Context, limit int) ([]model.GotoStatTotal, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	return r.store.TopGotoStats(ctx, limit)
}
