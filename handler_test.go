package stapled

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRescheduler records AddTask/CancelBySubject calls instead of driving a
// real Scheduler, so cadence logic can be tested without the dispatch loop.
type fakeRescheduler struct {
	added     []*Task
	cancelled []*Record
}

func (f *fakeRescheduler) AddTask(t *Task)           { f.added = append(f.added, t) }
func (f *fakeRescheduler) CancelBySubject(r *Record) { f.cancelled = append(f.cancelled, r) }

func TestHandleErrorTieredCadence(t *testing.T) {
	resched := &fakeRescheduler{}
	r := &Record{Path: "/tmp/tiered.pem"}
	task := NewTask(StageRenew, r)
	logger := zap.NewNop()

	err := &CertFileAccessError{Path: r.Path, Err: os.ErrPermission}

	before := time.Now()
	HandleError(logger, resched, task, err)
	require.Len(t, resched.added, 1)
	assert.WithinDuration(t, before.Add(1*time.Minute), task.SchedTime, 5*time.Second)

	HandleError(logger, resched, task, err)
	assert.WithinDuration(t, before.Add(2*time.Minute), task.SchedTime, 5*time.Second)

	HandleError(logger, resched, task, err)
	assert.WithinDuration(t, before.Add(3*time.Minute), task.SchedTime, 5*time.Second)

	// 4th through 6th occurrence: hourly cadence.
	HandleError(logger, resched, task, err)
	assert.WithinDuration(t, before.Add(time.Hour), task.SchedTime, 5*time.Second)

	HandleError(logger, resched, task, err)
	HandleError(logger, resched, task, err)
	require.Len(t, resched.added, 6)

	// 7th occurrence: give up, no further reschedule.
	HandleError(logger, resched, task, err)
	assert.Len(t, resched.added, 6, "7th consecutive failure gives up without rescheduling")
}

func TestHandleErrorNetworkCadenceRoundRobinsURLs(t *testing.T) {
	resched := &fakeRescheduler{}
	r := &Record{Path: "/tmp/net.pem", OCSPURLs: []string{"http://u1", "http://u2"}}
	task := NewTask(StageRenew, r)
	logger := zap.NewNop()

	err := &NetworkError{Path: r.Path, URL: "http://u1", Err: assertErr{}}

	for i := 0; i < 6; i++ {
		HandleError(logger, resched, task, err)
	}
	// 2 urls * 3 = 6 short-cadence attempts; url_index should have advanced
	// 6 times, landing back at 0.
	assert.Equal(t, 0, r.URLIndex)
	require.Len(t, resched.added, 6)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), resched.added[5].SchedTime, 2*time.Second)

	HandleError(logger, resched, task, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), task.SchedTime, 5*time.Second)
}

func TestHandleErrorCertValidationDeletesStaple(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "site.pem")
	staplePath := certPath + ".ocsp"
	require.NoError(t, os.WriteFile(staplePath, []byte("stale"), 0o644))

	resched := &fakeRescheduler{}
	r := &Record{Path: certPath}
	task := NewTask(StageRenew, r)

	HandleError(zap.NewNop(), resched, task, &CertValidationError{Path: certPath, Err: assertErr{}})

	_, err := os.Stat(staplePath)
	assert.True(t, os.IsNotExist(err), "stale staple should be deleted on validation failure")
	assert.Empty(t, resched.added, "validation failures are not retried")
}

func TestHandleErrorRevokedDeletesStapleAndNeverReschedules(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "revoked.pem")
	staplePath := certPath + ".ocsp"
	require.NoError(t, os.WriteFile(staplePath, []byte("stale"), 0o644))

	resched := &fakeRescheduler{}
	r := &Record{Path: certPath}
	task := NewTask(StageRenew, r)

	HandleError(zap.NewNop(), resched, task,
		&OCSPBadResponse{Path: certPath, URL: "http://ocsp.example", Reason: "certificate revoked", Revoked: true})

	_, err := os.Stat(staplePath)
	assert.True(t, os.IsNotExist(err), "stale staple should be deleted once the certificate is known revoked")
	assert.Empty(t, resched.added, "a revoked certificate is never retried")
}

func TestHandleErrorPureCABundleIsQuiet(t *testing.T) {
	resched := &fakeRescheduler{}
	r := &Record{Path: "/tmp/ca-bundle.pem"}
	task := NewTask(StageParse, r)

	HandleError(zap.NewNop(), resched, task, errPureCABundle)
	assert.Empty(t, resched.added)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
