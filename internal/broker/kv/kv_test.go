package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexo-broker/nexo/internal/protocol"
)

func TestGetReturnsAbsentForUnknownKey(t *testing.T) {
	b := New()
	_, ok := b.Get("missing")
	require.False(t, ok)
}

func TestSetGetRoundtrip(t *testing.T) {
	b := New()
	b.Set("k", protocol.StringAny("v"), 0)

	val, ok := b.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", val.AsString())
}

func TestEmptyStringIsNotNull(t *testing.T) {
	b := New()
	b.Set("e", protocol.StringAny(""), 0)

	val, ok := b.Get("e")
	require.True(t, ok)
	require.True(t, val.IsEmpty())
	require.Equal(t, "", val.AsString())
}

func TestDelIsIdempotent(t *testing.T) {
	b := New()
	b.Del("never-set") // must not panic or error

	b.Set("k", protocol.StringAny("v"), 0)
	b.Del("k")
	b.Del("k")

	_, ok := b.Get("k")
	require.False(t, ok)
}

func TestTTLExpiresEntry(t *testing.T) {
	b := New()
	fakeNow := time.Now()
	b.nowFn = func() time.Time { return fakeNow }

	b.Set("k", protocol.StringAny("v"), time.Second)

	val, ok := b.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", val.AsString())

	fakeNow = fakeNow.Add(1200 * time.Millisecond)
	_, ok = b.Get("k")
	require.False(t, ok)
}

func TestTTLZeroMeansNeverExpire(t *testing.T) {
	b := New()
	fakeNow := time.Now()
	b.nowFn = func() time.Time { return fakeNow }

	b.Set("k", protocol.StringAny("v"), 0)
	fakeNow = fakeNow.Add(365 * 24 * time.Hour)

	_, ok := b.Get("k")
	require.True(t, ok)
}

func TestSweepExpiredRemovesBoundedBatch(t *testing.T) {
	b := New()
	fakeNow := time.Now()
	b.nowFn = func() time.Time { return fakeNow }

	for i := 0; i < 5; i++ {
		b.Set(string(rune('a'+i)), protocol.StringAny("v"), time.Millisecond)
	}
	fakeNow = fakeNow.Add(10 * time.Millisecond)

	removed := b.SweepExpired(2)
	require.Equal(t, 2, removed)
	require.Equal(t, 3, len(b.entries))
}

func TestSnapshotExcludesExpiredEntries(t *testing.T) {
	b := New()
	fakeNow := time.Now()
	b.nowFn = func() time.Time { return fakeNow }

	b.Set("live", protocol.StringAny("v1"), 0)
	b.Set("dead", protocol.StringAny("v2"), time.Millisecond)
	fakeNow = fakeNow.Add(10 * time.Millisecond)

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "live", snap[0].Key)
	require.Nil(t, snap[0].ExpiresAt)
}
