package stapled

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Supervisor is the main goroutine of spec.md §2/§5: it builds the shared
// Store and Scheduler, spawns one goroutine per component, restarts any
// that exits unexpectedly (up to Config.MaxWorkerRestarts), and drives
// graceful shutdown on SIGINT/SIGTERM or (in OneOff mode) pipeline drain.
type Supervisor struct {
	Config  Config
	Logger  *zap.Logger
	Counter *CriticalCounter

	Store     *Store
	Scheduler *Scheduler

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSupervisor builds a Supervisor. cfg is normalised with WithDefaults and
// validated before use.
func NewSupervisor(cfg Config, logger *zap.Logger, counter *CriticalCounter) (*Supervisor, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sched := NewScheduler(logger)
	for _, stage := range []string{StageParse, StageRenew, StageProxyAdd} {
		sched.AddQueue(stage)
	}
	return &Supervisor{
		Config:    cfg,
		Logger:    logger,
		Counter:   counter,
		Store:     NewStore(),
		Scheduler: sched,
		stop:      make(chan struct{}),
	}, nil
}

// Run starts every component and blocks until shutdown, returning an
// aggregate of any fatal startup errors encountered along the way (e.g. an
// admin socket that never came up). It does not return a non-nil error for
// ordinary runtime retries — those are handled entirely by HandleError.
func (sv *Supervisor) Run() error {
	var startupErrs error

	sv.wg.Add(1)
	go func() {
		defer sv.wg.Done()
		sv.Scheduler.Start()
	}()

	finder := NewFinder(sv.Config, sv.Store, sv.Scheduler, sv.Logger)
	sv.spawn("finder", finder.Run)
	defer finder.Close()

	parser := NewParser(sv.Config, sv.Scheduler, sv.Logger)
	sv.spawn("parser", parser.Run)

	fetcher := NewFetcher()
	for i := 0; i < sv.Config.RenewalThreads; i++ {
		renewer := NewRenewer(sv.Config, sv.Scheduler, fetcher, sv.Logger)
		sv.spawn(fmt.Sprintf("renewer-%d", i), renewer.Run)
	}

	var adder *StapleAdder
	if len(sv.Config.HAProxySocketMapping) > 0 {
		a, err := NewStapleAdder(sv.Config, sv.Scheduler, sv.Logger)
		if err != nil {
			sv.Logger.Error("admin socket(s) unreachable, stapling to proxy disabled", zap.Error(err))
			startupErrs = multierr.Append(startupErrs, err)
		} else {
			adder = a
			sv.spawn("stapleadder", adder.Run)
		}
	}

	if sv.Config.OneOff {
		// Wait for Finder's first (and only, in OneOff mode) refresh to
		// finish before polling idleness: until then every queue starts
		// empty with zero in-flight tasks, so Scheduler.IdleAll() would
		// read trivially true and awaitDrain could return before Finder
		// ever produced a single StageParse task.
		select {
		case <-finder.FirstPassDone():
		case <-sv.stop:
		}
		sv.awaitDrain()
		close(sv.stop)
	} else {
		sv.awaitSignalOrStop()
	}

	sv.Scheduler.Stop()
	sv.wg.Wait()
	if adder != nil {
		adder.Close()
	}

	return startupErrs
}

// Stop requests shutdown from outside the process (tests, embedding code).
func (sv *Supervisor) Stop() {
	select {
	case <-sv.stop:
	default:
		close(sv.stop)
	}
}

// awaitSignalOrStop blocks until SIGINT/SIGTERM arrives or Stop is called.
func (sv *Supervisor) awaitSignalOrStop() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case sig := <-sigCh:
		sv.Logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		sv.Stop()
	case <-sv.stop:
	}
}

// awaitDrain implements spec.md §9's resolved one-off-mode behaviour:
// Finder has already done its single pass by the time this is called (it
// returns immediately in OneOff mode); this waits for every stage queue to
// drain before the caller closes sv.stop.
func (sv *Supervisor) awaitDrain() {
	for {
		if sv.Scheduler.IdleAll() {
			return
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-sv.stop:
			return
		}
	}
}

// spawn runs fn in a goroutine, restarting it up to Config.MaxWorkerRestarts
// times if it panics, per spec.md §5's supervisor restart policy.
func (sv *Supervisor) spawn(name string, fn func(stop <-chan struct{})) {
	sv.wg.Add(1)
	go func() {
		defer sv.wg.Done()
		restarts := 0
		for {
			if sv.runOnce(name, fn) {
				return
			}
			restarts++
			if restarts > sv.Config.MaxWorkerRestarts {
				sv.Logger.Error("worker exceeded restart budget, giving up",
					zap.String("worker", name), zap.Int("restarts", restarts))
				return
			}
			sv.Logger.Warn("restarting worker after panic",
				zap.String("worker", name), zap.Int("attempt", restarts))
			select {
			case <-sv.stop:
				return
			default:
			}
		}
	}()
}

// runOnce runs fn to completion (or until it panics), reporting whether it
// exited normally (true) or was recovered from a panic (false).
func (sv *Supervisor) runOnce(name string, fn func(stop <-chan struct{})) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			sv.Logger.Error("worker panicked", zap.String("worker", name), zap.Any("panic", r))
			if sv.Config.LogDir != "" {
				stamp := time.Now().Format("20060102-150405.000000")
				file := filepath.Join(sv.Config.LogDir, fmt.Sprintf(StackTraceFilePattern, stamp))
				trace := fmt.Sprintf("worker %s panicked: %v\n\n%s", name, r, debug.Stack())
				if err := os.WriteFile(file, []byte(trace), 0o644); err != nil {
					sv.Logger.Error("couldn't write stack trace file", zap.String("file", file), zap.Error(err))
				}
			}
			clean = false
		}
	}()
	fn(sv.stop)
	return true
}
