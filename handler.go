package stapled

import (
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
)

// HandleError is the central error-kind dispatch of spec.md §7: every
// component funnels a failed task's error through here instead of deciding
// for itself whether and when to retry. Cadences are ported from
// _examples/original_source/ocspd/core/excepthandler.py's
// ocsp_except_handle, including its exact thresholds and durations, except
// for the OCSPBadResponse branches noted below.
//
// resched is never a concrete *Scheduler: see Rescheduler's doc comment for
// why.
func HandleError(logger *zap.Logger, resched Rescheduler, task *Task, err error) {
	if err == nil {
		return
	}
	switch e := err.(type) {
	case *CertFileAccessError:
		tieredRetryOrGiveUp(logger, resched, task, e)
	case *StapleAdderBadResponse:
		tieredRetryOrGiveUp(logger, resched, task, e)
	case *SocketError:
		logger.Error("socket unusable, dropping", zap.Error(e), zap.String("socket", e.Socket))
	case *RenewalRequirementMissing:
		logger.Error("renewal requirement missing, dropping", zap.Error(e), zap.String("path", e.Path))
	case *CertParsingError:
		logger.Error("certificate parsing failed, dropping", zap.Error(e), zap.String("path", e.Path))
	case *CertValidationError:
		deleteStapleFile(logger, task.Subject)
		logger.Error("chain validation failed, dropping", zap.Error(e), zap.String("path", e.Path))
	case *OCSPBadResponse:
		switch {
		case e.Revoked:
			// spec.md §8 scenario 4: a revoked response is not retried at
			// all. The stale staple is deleted, a CRITICAL line is
			// emitted, and no successor renew task is scheduled.
			deleteStapleFile(logger, task.Subject)
			logger.Error(e.Error(), zap.String("path", e.Path))
		case e.Unknown:
			// Open Question, resolved per spec.md §9: an "unknown" status
			// is retried with the network-error round-robin cadence, not
			// the flatter OCSPBadResponse cadence below.
			networkRetry(logger, resched, task, e, task.Subject)
		default:
			// spec.md §7's table gives OCSPBadResponse the same cadence as
			// CertFileAccessError, superseding the looser "retry twice a
			// day forever" behaviour of the original implementation.
			tieredRetryOrGiveUp(logger, resched, task, e)
		}
	case *NetworkError:
		networkRetry(logger, resched, task, e, task.Subject)
	default:
		if errors.Is(err, errPureCABundle) {
			logger.Info("not eligible for stapling", zap.String("path", task.Subject.Path))
			return
		}
		logger.Error("unexpected error, dropping task",
			zap.Error(err), zap.String("subject", task.Subject.String()))
	}
}

// tieredRetryOrGiveUp implements the CertFileAccessError, StapleAdderBadResponse
// and plain OCSPBadResponse branch: err_count minutes for the first 3, then
// hourly for 3 more, then give up.
func tieredRetryOrGiveUp(logger *zap.Logger, resched Rescheduler, task *Task, err error) {
	count := task.SetLastException(err.Error())
	switch {
	case count < 4:
		logger.Error(err.Error(), zap.Int("attempt", count))
		reschedule(resched, task, time.Duration(count)*time.Minute)
	case count < 7:
		logger.Error(err.Error(), zap.Int("attempt", count))
		reschedule(resched, task, time.Hour)
	default:
		logger.Error("giving up", zap.Error(err), zap.Int("attempt", count))
	}
}

// networkRetry implements the requests-exception branch: cadence scales with
// the number of configured responder URLs, and every attempt advances
// subject's round-robin URL index before the next fetch.
func networkRetry(logger *zap.Logger, resched Rescheduler, task *Task, err error, subject *Record) {
	n := len(subject.OCSPURLs)
	if n == 0 {
		n = 1
	}
	subject.advanceURL()
	count := task.SetLastException(err.Error())
	logger.Error(err.Error(), zap.Int("attempt", count), zap.Int("urls", n))
	switch {
	case count < 3*n+1:
		reschedule(resched, task, 10*time.Second)
	case count < 6*n+1:
		reschedule(resched, task, time.Hour)
	default:
		reschedule(resched, task, (12*time.Hour)/time.Duration(n))
	}
}

// reschedule sets task's next scheduled time and hands it back to resched.
func reschedule(resched Rescheduler, task *Task, d time.Duration) {
	task.SchedTime = time.Now().Add(d)
	resched.AddTask(task)
}

// deleteStapleFile removes subject's .ocsp file, if any, so a revoked or
// otherwise invalid certificate stops being served a staple.
func deleteStapleFile(logger *zap.Logger, subject *Record) {
	if err := os.Remove(subject.OCSPFilePath()); err != nil && !os.IsNotExist(err) {
		logger.Debug("couldn't delete staple file", zap.Error(err), zap.String("path", subject.OCSPFilePath()))
	}
}
