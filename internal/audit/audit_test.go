package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesSortedLines(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "logs", "audit.log"))
	require.NoError(t, err)

	require.NoError(t, l.Append("order_new", map[string]any{"order": map[string]any{"symbol": "AAPL", "id": "1"}}))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.True(t, strings.HasPrefix(line, `{"event":"order_new","order":{"id":"1","symbol":"AAPL"},"ts":"`), line)
}

func TestTailReturnsOldestFirst(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, l.Append(name, nil))
	}
	// Corrupt line in the middle is ignored.
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString("{not json\n")
	require.NoError(t, f.Close())
	require.NoError(t, l.Append("e", nil))

	events, err := l.Tail(3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0]["event"])
	assert.Equal(t, "d", events[1]["event"])
	assert.Equal(t, "e", events[2]["event"])
}

func TestTailMissingFile(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "none.log"))
	require.NoError(t, err)
	events, err := l.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
