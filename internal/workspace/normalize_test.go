package workspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/lsphub/internal/protocol"
	"github.com/opencode-ai/lsphub/pkg/types"
)

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		raw      int
		expected types.Severity
	}{
		{1, types.SeverityError},
		{2, types.SeverityWarning},
		{3, types.SeverityInfo},
		{4, types.SeverityHint},
		{0, types.SeverityWarning},  // absent
		{5, types.SeverityWarning},  // out of range
		{-1, types.SeverityWarning}, // nonsense
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizeSeverity(tt.raw), "severity %d", tt.raw)
	}
}

func TestNormalizeDiagnostics(t *testing.T) {
	raw := []protocol.Diagnostic{
		{
			Severity: 1,
			Message:  "Type 'string' is not assignable to type 'number'.",
			Range:    protocol.Range{Start: protocol.Position{Line: 11, Character: 4}},
			Source:   "ts",
		},
		{
			// No severity, no range.
			Message: "something odd",
		},
	}

	out := normalizeDiagnostics(raw)
	require.Len(t, out, 2)

	assert.Equal(t, types.Diagnostic{
		Severity:  types.SeverityError,
		Message:   "Type 'string' is not assignable to type 'number'.",
		Line:      12,
		Character: 5,
		Source:    "ts",
	}, out[0])

	assert.Equal(t, types.SeverityWarning, out[1].Severity)
	assert.Equal(t, 1, out[1].Line)
	assert.Equal(t, 1, out[1].Character)
}

func TestDedupeDiagnostics(t *testing.T) {
	diags := []types.Diagnostic{
		{Line: 3, Character: 1, Message: "dup", Severity: types.SeverityError, Source: "a"},
		{Line: 3, Character: 1, Message: "dup", Severity: types.SeverityWarning, Source: "b"},
		{Line: 3, Character: 2, Message: "dup"},
		{Line: 4, Character: 1, Message: "other"},
	}

	out := dedupeDiagnostics(diags)
	require.Len(t, out, 3)
	// First occurrence wins.
	assert.Equal(t, "a", out[0].Source)
}

func TestKeyedLock_FIFO(t *testing.T) {
	l := newKeyedLock()

	r1 := l.Acquire("f")
	got := make(chan int, 2)

	go func() {
		r2 := l.Acquire("f")
		got <- 2
		r2()
	}()
	// Let the second acquirer queue up before the third.
	waitQueued(t, l, "f", 2)

	go func() {
		r3 := l.Acquire("f")
		got <- 3
		r3()
	}()
	waitQueued(t, l, "f", 3)

	r1()
	assert.Equal(t, 2, <-got)
	assert.Equal(t, 3, <-got)
}

func TestKeyedLock_DistinctKeysDoNotBlock(t *testing.T) {
	l := newKeyedLock()

	release := l.Acquire("a")
	defer release()

	done := make(chan struct{})
	go func() {
		r := l.Acquire("b")
		r()
		close(done)
	}()
	<-done
}

func TestKeyedLock_ReleaseIdempotent(t *testing.T) {
	l := newKeyedLock()

	release := l.Acquire("f")
	release()
	release() // must not close twice

	r := l.Acquire("f")
	r()
}

func waitQueued(t *testing.T, l *keyedLock, key string, n int) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		l.mu.Lock()
		refs := l.refs[key]
		l.mu.Unlock()
		if refs >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never saw %d waiters for %s", n, key)
}
