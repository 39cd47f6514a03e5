package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/session"
)

const drainTimeout = 10 * time.Second

// SessionSource yields the session to autosave. *manager.Manager implements
// it.
type SessionSource interface {
	Session() session.Session
}

// AutosaveWorker pushes answer edits that are still pending to the server
// on a fixed interval, so a crash loses at most one interval of typing.
type AutosaveWorker struct {
	src      SessionSource
	interval time.Duration
	log      zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(src SessionSource, interval time.Duration, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		src:      src,
		interval: interval,
		log:      log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start runs until ctx is done, then drains what is still pending. Call in a
// goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			if n := w.Flush(drainCtx); n > 0 {
				w.log.Info().Int("count", n).Msg("Drained pending answers")
			}
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush resyncs every question with pending edits and returns how many were
// saved. Failures stay pending for the next round.
func (w *AutosaveWorker) Flush(ctx context.Context) int {
	s := w.src.Session()
	if !s.Active() {
		return 0
	}

	saved := 0
	for _, u := range s.Questions() {
		if !u.Pending() {
			continue
		}
		if err := u.Resync(ctx); err != nil {
			w.log.Warn().Err(err).Int("question_id", u.ID()).Msg("Autosave failed, retrying next round")
			continue
		}
		saved++
	}
	return saved
}
