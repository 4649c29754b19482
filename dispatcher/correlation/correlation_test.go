package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_InsertThenResolveDeletesEntry(t *testing.T) {
	table := New()
	defer table.Close()

	table.Insert("e1", "sess-1")
	sess, ok := table.Resolve("e1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", sess)

	_, ok = table.Resolve("e1")
	assert.False(t, ok, "resolving the same echo twice must fail, it was removed on first hit")
}

func TestTable_ResolveUnknownEchoFails(t *testing.T) {
	table := New()
	defer table.Close()

	_, ok := table.Resolve("ghost")
	assert.False(t, ok)
}

func TestTable_InsertIgnoresEmptyEcho(t *testing.T) {
	table := New()
	defer table.Close()

	table.Insert("", "sess-1")
	assert.Equal(t, 0, table.InFlight())
}

func TestTable_MarkSessionGoneDropsFutureResolve(t *testing.T) {
	table := New()
	defer table.Close()

	table.Insert("e1", "sess-1")
	table.MarkSessionGone("sess-1")

	_, ok := table.Resolve("e1")
	assert.False(t, ok)
}

func TestTable_MarkSessionGoneOnlyAffectsThatSession(t *testing.T) {
	table := New()
	defer table.Close()

	table.Insert("e1", "sess-1")
	table.Insert("e2", "sess-2")
	table.MarkSessionGone("sess-1")

	sess, ok := table.Resolve("e2")
	require.True(t, ok)
	assert.Equal(t, "sess-2", sess)
}

func TestTable_InFlightCountsCurrentEntries(t *testing.T) {
	table := New()
	defer table.Close()

	table.Insert("e1", "sess-1")
	table.Insert("e2", "sess-2")
	assert.Equal(t, 2, table.InFlight())

	table.Resolve("e1")
	assert.Equal(t, 1, table.InFlight())
}

func TestTable_EvictExpiredRemovesStaleEntries(t *testing.T) {
	table := New()
	defer table.Close()

	table.Insert("stale", "sess-1")
	table.mu.Lock()
	e := table.entries["stale"]
	e.insertedAt = time.Now().Add(-ttl - time.Second)
	table.entries["stale"] = e
	table.mu.Unlock()

	table.Insert("fresh", "sess-2")
	table.evictExpired()

	assert.Equal(t, 1, table.InFlight())
	_, ok := table.Resolve("fresh")
	assert.True(t, ok)
}
