package stapled

import "time"

// Stage names, one per named queue spec.md §2/§4 describes.
const (
	StageParse    = "parse"
	StageRenew    = "renew"
	StageProxyAdd = "proxy-add"
)

// Task is the Task context of spec.md §3: one unit of work on a queue.
//
// Per §9's redesign note about the cyclic task<->scheduler reference, Task
// holds no pointer back to the Scheduler; handler.go reschedules a Task by
// calling AddTask on whatever Rescheduler it was given, not by asking the
// Task to reschedule itself.
type Task struct {
	Stage     string
	Subject   *Record
	SchedTime time.Time // zero value means "ASAP"

	lastException      string
	lastExceptionCount int

	seq uint64 // insertion sequence, for stable same-deadline ordering
}

// NewTask creates a fresh task context: no scheduled time (ASAP) and reset
// exception counters, matching the "successor task" semantics spec.md §3
// and §4.3 describe ("a fresh task context (exception counters reset)").
func NewTask(stage string, subject *Record) *Task {
	return &Task{Stage: stage, Subject: subject}
}

// NewScheduledTask creates a fresh task context due at t.
func NewScheduledTask(stage string, subject *Record, t time.Time) *Task {
	return &Task{Stage: stage, Subject: subject, SchedTime: t}
}

// ASAP reports whether the task has no scheduled time.
func (t *Task) ASAP() bool { return t.SchedTime.IsZero() }

// SetLastException records the string representation of the most recent
// exception handling this task hit, and returns how many times in a row
// that same exception (by string comparison) has now occurred, resetting to
// 1 when it differs from the previous one.
//
// Mirrors
// _examples/original_source/ocspd/core/taskcontext.py's
// OCSPTaskContext.set_last_exception.
func (t *Task) SetLastException(msg string) int {
	if t.lastException == "" || t.lastException != msg {
		t.lastException = msg
		t.lastExceptionCount = 1
	} else {
		t.lastExceptionCount++
	}
	return t.lastExceptionCount
}
