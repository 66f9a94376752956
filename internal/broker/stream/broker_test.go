package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexo-broker/nexo/internal/protocol"
)

func publishN(t *testing.T, b *Broker, name string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, _, err := b.Publish(name, protocol.StringAny("v"), "")
		require.NoError(t, err)
	}
}

func drainAll(t *testing.T, b *Broker, name, group string, conn ConnID, gen uint64) []Record {
	t.Helper()
	var out []Record
	for {
		res, err := b.Fetch(name, group, conn, gen, 1000)
		require.NoError(t, err)
		if len(res) == 0 {
			return out
		}
		for _, r := range res {
			out = append(out, r.Records...)
		}
	}
}

func TestFanOutAcrossGroupsIsIndependent(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("t", 1, Retention{}, false))
	publishN(t, b, "t", 5)

	gen1, err := b.Join("t", "g1", 1)
	require.NoError(t, err)
	gen2, err := b.Join("t", "g2", 2)
	require.NoError(t, err)

	recs1 := drainAll(t, b, "t", "g1", 1, gen1)
	recs2 := drainAll(t, b, "t", "g2", 2, gen2)

	require.Len(t, recs1, 5)
	require.Len(t, recs2, 5)
}

func TestPerPartitionFIFOWithinGeneration(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("t", 1, Retention{}, false))
	publishN(t, b, "t", 10)

	gen, err := b.Join("t", "g", 1)
	require.NoError(t, err)

	recs := drainAll(t, b, "t", "g", 1, gen)
	require.Len(t, recs, 10)
	for i, r := range recs {
		require.Equal(t, uint64(i), r.Seq)
	}
}

func TestStaleGenerationFetchReturnsRebalance(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("t", 1, Retention{}, false))
	gen, err := b.Join("t", "g", 1)
	require.NoError(t, err)

	_, err = b.Join("t", "g", 2) // bumps generation
	require.NoError(t, err)

	_, err = b.Fetch("t", "g", 1, gen, 10)
	require.ErrorIs(t, err, ErrRebalance)
}

func TestCommitAdvancesWatermarkAndFencesStaleGeneration(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("t", 1, Retention{}, false))
	publishN(t, b, "t", 3)
	gen, err := b.Join("t", "g", 1)
	require.NoError(t, err)

	require.NoError(t, b.Commit("t", "g", gen, 0, 2))

	err = b.Commit("t", "g", gen+1, 0, 3)
	require.ErrorIs(t, err, ErrFenced)
}

func TestRebalanceRedistributesUncommittedWorkOnDisconnect(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("t", 2, Retention{}, false))
	publishN(t, b, "t", 20) // round robin across 2 partitions -> 10 each

	gen, err := b.Join("t", "g", 1)
	require.NoError(t, err)
	gen, err = b.Join("t", "g", 2)
	require.NoError(t, err)

	// Both consume a bit without committing.
	_, err = b.Fetch("t", "g", 1, gen, 3)
	require.NoError(t, err)
	_, err = b.Fetch("t", "g", 2, gen, 3)
	require.NoError(t, err)

	require.NoError(t, b.Leave("t", "g", 1))

	// New generation: member 2 now owns both partitions and must be able to
	// read everything from the committed watermark (0, since nothing was
	// committed) through the end.
	newGen, err := b.Join("t", "g", 2) // idempotent re-join, generation already bumped by Leave
	require.NoError(t, err)
	require.Greater(t, newGen, gen)

	recs := drainAll(t, b, "t", "g", 2, newGen)
	require.Len(t, recs, 20)
}

func TestSeekBeginningAndEnd(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("t", 1, Retention{}, false))
	publishN(t, b, "t", 5)
	gen, err := b.Join("t", "g", 1)
	require.NoError(t, err)
	drainAll(t, b, "t", "g", 1, gen)

	require.NoError(t, b.Seek("t", "g", "beginning"))
	recs, err := b.Fetch("t", "g", 1, gen, 100)
	require.NoError(t, err)
	require.Len(t, recs[0].Records, 5)

	require.NoError(t, b.Seek("t", "g", "end"))
	recs, err = b.Fetch("t", "g", 1, gen, 100)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestSnapshotReportsEndOffsetAndCommittedOffsets(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("orders", 1, Retention{}, false))
	publishN(t, b, "orders", 5)

	gen, err := b.Join("orders", "workers", ConnID(1))
	require.NoError(t, err)
	drainAll(t, b, "orders", "workers", ConnID(1), gen)
	require.NoError(t, b.Commit("orders", "workers", gen, 0, 3))

	snaps := b.Snapshot()
	require.Len(t, snaps, 1)
	require.Equal(t, uint64(5), snaps[0].Partitions[0].EndOffset)
	require.Len(t, snaps[0].Groups, 1)
	require.Equal(t, uint64(3), snaps[0].Groups[0].CommittedOffsets[0])
}

func TestRoutingKeyHashIsStable(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("t", 4, Retention{}, false))

	p1, _, err := b.Publish("t", protocol.StringAny("a"), "device-42")
	require.NoError(t, err)
	p2, _, err := b.Publish("t", protocol.StringAny("b"), "device-42")
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}
