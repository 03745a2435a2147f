package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/fingerprint"
	"github.com/driftsync/driftsync/internal/protocol"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func updated(path, content, origin string) *protocol.ChangeEvent {
	return &protocol.ChangeEvent{
		Path:        path,
		Kind:        protocol.KindUpdated,
		Fingerprint: fingerprint.Bytes([]byte(content)),
		Content:     []byte(content),
		Origin:      origin,
	}
}

func TestLog_Append_AssignsMonotonicSequences(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	s1, err := log.Append(ctx, updated("a.txt", "one", "node-a"))
	require.NoError(t, err)
	s2, err := log.Append(ctx, updated("a.txt", "two", "node-b"))
	require.NoError(t, err)
	s3, err := log.Append(ctx, &protocol.ChangeEvent{Path: "a.txt", Kind: protocol.KindDeleted, Origin: "node-a"})
	require.NoError(t, err)

	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)

	last, err := log.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, s3, last)
}

func TestLog_ConcurrentWritersToSamePath_BothOrdered(t *testing.T) {
	// Concurrent writes to the same path never fail; they become two
	// ordered events and recency of application decides precedence.
	log := openTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, updated("shared.txt", "from a", "node-a"))
	require.NoError(t, err)
	_, err = log.Append(ctx, updated("shared.txt", "from b", "node-b"))
	require.NoError(t, err)

	events, err := log.EventsSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "node-a", events[0].Origin)
	assert.Equal(t, "node-b", events[1].Origin)
}

func TestLog_EventsSince_AscendingAndExclusive(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	var seqs []int64
	for _, c := range []string{"v1", "v2", "v3"} {
		s, err := log.Append(ctx, updated("f.txt", c, "node-a"))
		require.NoError(t, err)
		seqs = append(seqs, s)
	}

	events, err := log.EventsSince(ctx, seqs[0], 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, seqs[1], events[0].Sequence)
	assert.Equal(t, seqs[2], events[1].Sequence)
	assert.Equal(t, []byte("v2"), events[0].Content)

	// Nothing past the tail.
	events, err = log.EventsSince(ctx, seqs[2], 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLog_EventsSince_RespectsLimit(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, updated("f.txt", string(rune('a'+i)), "node-a"))
		require.NoError(t, err)
	}

	events, err := log.EventsSince(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Next page picks up exactly where the previous one ended.
	next, err := log.EventsSince(ctx, events[1].Sequence, 2)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, events[1].Sequence+1, next[0].Sequence)
}

func TestLog_DeletedEvent_CarriesNoContent(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, &protocol.ChangeEvent{Path: "gone.txt", Kind: protocol.KindDeleted, Origin: "node-a"})
	require.NoError(t, err)

	events, err := log.EventsSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Deleted())
	assert.Empty(t, events[0].Fingerprint)
	assert.Empty(t, events[0].Content)
	assert.False(t, events[0].Timestamp.IsZero())
}
