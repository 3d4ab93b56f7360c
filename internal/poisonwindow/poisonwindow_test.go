package poisonwindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEscalatesAtThreshold(t *testing.T) {
	w := New(3, time.Minute)
	base := time.Now()

	assert.False(t, w.RecordFailure(base))
	assert.False(t, w.RecordFailure(base.Add(time.Second)))
	assert.True(t, w.RecordFailure(base.Add(2*time.Second)))
}

func TestOldFailuresExpireOutOfPeriod(t *testing.T) {
	w := New(2, time.Minute)
	base := time.Now()

	assert.False(t, w.RecordFailure(base))
	assert.False(t, w.Escalated(base.Add(time.Second)))

	// A failure long after the period should not combine with the stale one.
	escalated := w.RecordFailure(base.Add(2 * time.Minute))
	assert.False(t, escalated, "the first failure has aged out of the window")
}

func TestSuccessClearsWindow(t *testing.T) {
	w := New(2, time.Minute)
	base := time.Now()

	w.RecordFailure(base)
	w.RecordSuccess()

	assert.False(t, w.RecordFailure(base.Add(time.Second)))
}
