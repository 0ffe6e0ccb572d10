package stapled

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the structured logger every component takes a *zap.Logger
// for, plus a CriticalCounter hooked into it. zap replaces the teacher's
// stdlib log.Logger the way the rest of the pack's daemons do structured
// logging; colourisation or any other sink-specific formatting is zap's
// encoder's problem, never this package's, per spec.md §9's "global
// singleton logger" redesign note.
func NewLogger(debug bool) (*zap.Logger, *CriticalCounter, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	base, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	counter := &CriticalCounter{}
	logger := base.WithOptions(zap.Hooks(counter.hook))
	return logger, counter, nil
}

// CriticalCounter counts Error-level-or-above log entries across the whole
// process, backing spec.md §6's one-off-mode exit code rule ("nonzero if a
// supervisor-level error tracker counted any record at or above a
// configured severity").
type CriticalCounter struct {
	n int64
}

func (c *CriticalCounter) hook(entry zapcore.Entry) error {
	if entry.Level >= zapcore.ErrorLevel {
		atomic.AddInt64(&c.n, 1)
	}
	return nil
}

// Count returns the number of Error-level-or-above entries logged so far.
func (c *CriticalCounter) Count() int64 {
	return atomic.LoadInt64(&c.n)
}
