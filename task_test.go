package stapled

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskASAP(t *testing.T) {
	r := &Record{Path: "/tmp/a.pem"}
	task := NewTask(StageParse, r)
	assert.True(t, task.ASAP())

	scheduled := NewScheduledTask(StageRenew, r, time.Now().Add(time.Hour))
	assert.False(t, scheduled.ASAP())
}

func TestSetLastExceptionCounts(t *testing.T) {
	task := NewTask(StageRenew, &Record{Path: "/tmp/b.pem"})

	assert.Equal(t, 1, task.SetLastException("connection refused"))
	assert.Equal(t, 2, task.SetLastException("connection refused"))
	assert.Equal(t, 3, task.SetLastException("connection refused"))

	// a different error resets the counter to 1
	assert.Equal(t, 1, task.SetLastException("timeout"))
	assert.Equal(t, 2, task.SetLastException("timeout"))
}
