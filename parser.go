package stapled

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// Parser implements spec.md §4.2: it consumes StageParse tasks, extracts and
// validates each record's chain, optionally recycles an existing staple, and
// emits exactly one StageRenew task per parse.
//
// Grounded on
// _examples/original_source/ocspd/core/certmodel.py and
// _examples/original_source/ocspd/core/certparser.py, generalized the way
// Finder is: one goroutine polling the scheduler instead of a thread with a
// stop flag.
type Parser struct {
	Config    Config
	Scheduler *Scheduler
	Logger    *zap.Logger
}

// NewParser builds a Parser.
func NewParser(cfg Config, sched *Scheduler, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{Config: cfg, Scheduler: sched, Logger: logger}
}

// Run consumes StageParse tasks until stop is closed.
func (p *Parser) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		task, ok := p.Scheduler.GetTask(StageParse, 250*time.Millisecond)
		if !ok {
			continue
		}
		p.process(task)
		p.Scheduler.TaskDone(StageParse)
	}
}

func (p *Parser) process(task *Task) {
	r := task.Subject
	if err := r.parseChain(); err != nil {
		HandleError(p.Logger, p.Scheduler, task, err)
		return
	}

	staple := p.tryRecycle(r)
	chain, err := r.validate(staple)
	if err != nil {
		HandleError(p.Logger, p.Scheduler, task, err)
		return
	}

	r.mu.Lock()
	r.Chain = chain
	if staple != nil {
		r.Staple = staple
	}
	r.mu.Unlock()

	var renewTask *Task
	if staple != nil {
		remaining := time.Until(staple.ValidUntil())
		if remaining > p.Config.MinimumValidity {
			due := staple.ValidUntil().Add(-p.Config.MinimumValidity)
			renewTask = NewScheduledTask(StageRenew, r, due)
			p.Logger.Info("recycled existing staple",
				zap.String("path", r.Path), zap.Time("next_renew", due))
		}
	}
	if renewTask == nil {
		renewTask = NewTask(StageRenew, r)
		p.Logger.Debug("scheduling immediate renewal", zap.String("path", r.Path))
	}
	p.Scheduler.AddTask(renewTask)
}

// tryRecycle implements spec.md §4.2's staple-recycling rule: any failure
// here, including a missing, empty, unparseable, non-good, or expired
// staple file, is silent and simply yields nil (ASAP renewal).
func (p *Parser) tryRecycle(r *Record) *Staple {
	if p.Config.NoRecycle {
		return nil
	}
	data, err := os.ReadFile(r.OCSPFilePath())
	if err != nil || len(data) == 0 {
		return nil
	}
	issuer := issuerCandidate(r.EndEntity, r.Intermediates)
	if issuer == nil {
		return nil
	}
	staple, err := parseStaple(data, issuer)
	if err != nil {
		return nil
	}
	if !staple.Good() || !staple.ValidUntil().After(time.Now()) {
		return nil
	}
	return staple
}
