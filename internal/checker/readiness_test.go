package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadiness_InitialState(t *testing.T) {
	r := newReadiness([]string{"a", "b"})
	assert.Equal(t, StateNotInitialized, r.state("a"))
	st := r.status()
	assert.False(t, st.Ready)
	assert.Equal(t, 0, st.ReadyCount)
	assert.Equal(t, 2, st.TotalCount)
}

func TestReadiness_ReadyTransition(t *testing.T) {
	r := newReadiness([]string{"a"})
	assert.True(t, r.transition("a", StateReady))
	assert.Equal(t, StateReady, r.state("a"))
	assert.True(t, r.status().Ready)
}

func TestReadiness_FailedIsTerminalWithoutReinit(t *testing.T) {
	r := newReadiness([]string{"a"})
	assert.True(t, r.transition("a", StateFailed))
	assert.False(t, r.transition("a", StateReady), "failed source must not become ready")
	assert.Equal(t, StateFailed, r.state("a"))
}

func TestReadiness_StoppedOnlyFromReady(t *testing.T) {
	r := newReadiness([]string{"a", "b"})
	assert.False(t, r.transition("a", StateStopped), "cannot stop an uninitialized source")
	r.transition("b", StateReady)
	assert.True(t, r.transition("b", StateStopped))
	assert.False(t, r.transition("b", StateReady), "stopped source must not become ready")
}

func TestReadiness_UnknownSource(t *testing.T) {
	r := newReadiness([]string{"a"})
	assert.False(t, r.transition("nope", StateReady))
}

func TestReadiness_StatusCounts(t *testing.T) {
	r := newReadiness([]string{"a", "b", "c"})
	r.transition("a", StateReady)
	r.transition("b", StateFailed)
	st := r.status()
	assert.True(t, st.Ready, "one ready source is enough")
	assert.Equal(t, 1, st.ReadyCount)
	assert.Equal(t, "ready", st.Sources["a"])
	assert.Equal(t, "failed", st.Sources["b"])
	assert.Equal(t, "not_initialized", st.Sources["c"])
}

func TestSourceStateString(t *testing.T) {
	assert.Equal(t, "not_initialized", StateNotInitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
