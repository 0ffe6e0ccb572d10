package stapled

import (
	"context"
	"crypto/x509"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ocsp"
)

// fetchOverallTimeout bounds one renewal attempt end to end, as a backstop
// above the connect/read timeouts NewFetcher's transport already enforces.
const fetchOverallTimeout = 30 * time.Second

// Renewer is one worker of the pool spec.md §4.3 describes: it performs one
// OCSP fetch attempt per StageRenew task, validates the result, writes the
// staple to disk, and emits both a StageProxyAdd task and a successor
// StageRenew task.
//
// Grounded on _examples/tbroyer-ocspd/fetch.go and update.go, and on
// _examples/original_source/ocspd/core/certmodel.py's renew/fetch_ocsp_response
// methods for the response-classification rules.
type Renewer struct {
	Config    Config
	Scheduler *Scheduler
	Fetcher   *Fetcher
	Logger    *zap.Logger
}

// NewRenewer builds a Renewer.
func NewRenewer(cfg Config, sched *Scheduler, fetcher *Fetcher, logger *zap.Logger) *Renewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	return &Renewer{Config: cfg, Scheduler: sched, Fetcher: fetcher, Logger: logger}
}

// Run consumes StageRenew tasks until stop is closed. Multiple Renewer
// instances sharing one Scheduler form the worker pool.
func (rn *Renewer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		task, ok := rn.Scheduler.GetTask(StageRenew, 250*time.Millisecond)
		if !ok {
			continue
		}
		rn.process(task)
		rn.Scheduler.TaskDone(StageRenew)
	}
}

func (rn *Renewer) process(task *Task) {
	r := task.Subject

	r.mu.Lock()
	endEntity := r.EndEntity
	chain := r.Chain
	r.mu.Unlock()

	if endEntity == nil || len(chain) == 0 {
		HandleError(rn.Logger, rn.Scheduler, task,
			&RenewalRequirementMissing{Path: r.Path, Reason: "no validated chain to renew against"})
		return
	}
	issuer, err := r.issuer()
	if err != nil {
		HandleError(rn.Logger, rn.Scheduler, task, err)
		return
	}
	url, err := r.currentURL()
	if err != nil {
		HandleError(rn.Logger, rn.Scheduler, task, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchOverallTimeout)
	der, err := rn.Fetcher.Fetch(ctx, endEntity, issuer, url)
	cancel()
	if err != nil {
		if ne, ok := err.(*NetworkError); ok {
			ne.Path = r.Path
		}
		HandleError(rn.Logger, rn.Scheduler, task, err)
		return
	}

	staple, err := rn.classify(r, url, der, issuer)
	if err != nil {
		HandleError(rn.Logger, rn.Scheduler, task, err)
		return
	}

	if err := os.WriteFile(r.OCSPFilePath(), staple.Raw, 0o644); err != nil {
		HandleError(rn.Logger, rn.Scheduler, task, &CertFileAccessError{Path: r.OCSPFilePath(), Err: err})
		return
	}

	r.mu.Lock()
	r.Staple = staple
	r.mu.Unlock()

	rn.Logger.Info("renewed OCSP staple",
		zap.String("path", r.Path), zap.Time("valid_until", staple.ValidUntil()))

	if rn.Config.HookCmd != "" {
		if err := runHookCmd(rn.Logger, r.Path, rn.Config.HookCmd, staple.Raw); err != nil {
			rn.Logger.Error("renewal hook failed", zap.String("path", r.Path), zap.Error(err))
		}
	}

	rn.Scheduler.AddTask(NewTask(StageProxyAdd, r))

	due := staple.ValidUntil().Add(-rn.Config.MinimumValidity)
	if rn.Config.DebugRenewInterval > 0 {
		due = time.Now().Add(rn.Config.DebugRenewInterval)
	}
	rn.Scheduler.AddTask(NewScheduledTask(StageRenew, r, due))
}

// classify implements spec.md §4.3's response-classification rules: empty
// body and unparseable/revoked/unknown statuses all surface as
// OCSPBadResponse; only "good" is success.
func (rn *Renewer) classify(r *Record, url string, der []byte, issuer *x509.Certificate) (*Staple, error) {
	if len(der) == 0 {
		return nil, &OCSPBadResponse{Path: r.Path, URL: url, Reason: "empty response body"}
	}
	staple, err := parseStaple(der, issuer)
	if err != nil {
		return nil, &OCSPBadResponse{Path: r.Path, URL: url, Reason: err.Error()}
	}
	switch staple.Response.Status {
	case ocsp.Good:
		return staple, nil
	case ocsp.Revoked:
		return nil, &OCSPBadResponse{
			Path:    r.Path,
			URL:     url,
			Reason:  "certificate revoked: " + RevocationReasonString(staple.Response.RevocationReason),
			Revoked: true,
		}
	default:
		return nil, &OCSPBadResponse{Path: r.Path, URL: url, Reason: "status unknown", Unknown: true}
	}
}
