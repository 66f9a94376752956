package stream

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/nexo-broker/nexo/internal/protocol"
)

// ErrAlreadyExists is returned by Create when the topic already exists and
// passive creation was not requested.
type ErrAlreadyExists struct{ Name string }

func (e ErrAlreadyExists) Error() string { return fmt.Sprintf("stream '%s' already exists", e.Name) }

type topic struct {
	mu sync.Mutex

	name       string
	partitions []*partition
	retention  Retention
	rrCounter  uint64 // round-robin partition selector when no routing key is given

	groups map[string]*group // group name -> coordinator
}

func newTopic(name string, numPartitions uint32, retention Retention) *topic {
	parts := make([]*partition, numPartitions)
	for i := range parts {
		parts[i] = &partition{}
	}
	return &topic{
		name:       name,
		partitions: parts,
		retention:  retention,
		groups:     make(map[string]*group),
	}
}

func (t *topic) numPartitions() uint32 { return uint32(len(t.partitions)) }

func (t *topic) groupFor(name string) *group {
	g, ok := t.groups[name]
	if !ok {
		g = newGroup(t.numPartitions())
		t.groups[name] = g
	}
	return g
}

// Broker owns every stream topic.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topic
	nowFn  func() time.Time
}

// New creates an empty stream broker.
func New() *Broker {
	return &Broker{topics: make(map[string]*topic), nowFn: time.Now}
}

// Create registers a topic with the given partition count and retention.
func (b *Broker) Create(name string, numPartitions uint32, retention Retention, passive bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.topics[name]; exists {
		if passive {
			return nil
		}
		return ErrAlreadyExists{Name: name}
	}
	b.topics[name] = newTopic(name, numPartitions, retention)
	return nil
}

func (b *Broker) get(name string) (*topic, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[name]
	if !ok {
		return nil, ErrNotFound{Name: name}
	}
	return t, nil
}

// Publish appends payload to a partition chosen by hash(routingKey) mod N
// when routingKey is non-empty, otherwise by per-topic round robin. Returns
// the partition id and assigned seq.
func (b *Broker) Publish(name string, payload protocol.Any, routingKey string) (partitionID uint32, seq uint64, err error) {
	t, err := b.get(name)
	if err != nil {
		return 0, 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := uint32(len(t.partitions))
	if routingKey != "" {
		h := fnv.New32a()
		h.Write([]byte(routingKey))
		partitionID = h.Sum32() % n
	} else {
		partitionID = uint32(t.rrCounter % uint64(n))
		t.rrCounter++
	}

	rec := t.partitions[partitionID].append(Record{Timestamp: b.nowFn(), Payload: payload})
	return partitionID, rec.Seq, nil
}

// Join adds conn to (name, groupName), rebalancing assignment, and returns
// the new generation (fence token).
func (b *Broker) Join(name, groupName string, conn ConnID) (generation uint64, err error) {
	t, err := b.get(name)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	g := t.groupFor(groupName)
	return g.join(conn, t.numPartitions()), nil
}

// Leave removes conn from (name, groupName), triggering a rebalance. Called
// on connection close.
func (b *Broker) Leave(name, groupName string, conn ConnID) error {
	t, err := b.get(name)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	g := t.groupFor(groupName)
	g.leave(conn, t.numPartitions())
	return nil
}

// FetchResult is one batch returned by Fetch.
type FetchResult struct {
	Partition uint32
	Records   []Record
}

// Fetch returns records from the partitions conn owns in (name, groupName)
// at the given generation, oldest first within each partition, up to
// batchSize total. A stale generation returns ErrRebalance.
func (b *Broker) Fetch(name, groupName string, conn ConnID, generation uint64, batchSize int) ([]FetchResult, error) {
	t, err := b.get(name)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.groupFor(groupName)
	if generation != g.generation {
		return nil, ErrRebalance
	}

	remaining := batchSize
	var results []FetchResult
	for _, pid := range g.assignedPartitions(conn) {
		if remaining <= 0 {
			break
		}
		cursor := g.fetchCursor[pid]
		recs := t.partitions[pid].fetchFrom(cursor, remaining)
		if len(recs) == 0 {
			continue
		}
		g.fetchCursor[pid] = recs[len(recs)-1].Seq + 1
		if g.fetchCursor[pid] > g.inFlight[pid] {
			g.inFlight[pid] = g.fetchCursor[pid]
		}
		results = append(results, FetchResult{Partition: pid, Records: recs})
		remaining -= len(recs)
	}
	return results, nil
}

// FetchPartition is the partitioned fetch variant: explicit partition and
// starting offset, ignoring the fetch cursor (a client resuming from a
// specific offset it tracks itself).
func (b *Broker) FetchPartition(name, groupName string, conn ConnID, generation uint64, partitionID uint32, offset uint64, batchSize int) ([]Record, error) {
	t, err := b.get(name)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.groupFor(groupName)
	if generation != g.generation {
		return nil, ErrRebalance
	}
	if !g.ownsPartition(conn, partitionID) {
		return nil, ErrRebalance
	}

	recs := t.partitions[partitionID].fetchFrom(offset, batchSize)
	if len(recs) > 0 {
		last := recs[len(recs)-1].Seq + 1
		if last > g.inFlight[partitionID] {
			g.inFlight[partitionID] = last
		}
	}
	return recs, nil
}

// Ack validates generation and advances committed_offsets[partition] to
// seq+1 if that is an advance. Stale generations return ErrFenced.
func (b *Broker) Ack(name, groupName string, conn ConnID, generation uint64, partitionID uint32, seq uint64) error {
	return b.commit(name, groupName, generation, partitionID, seq+1)
}

// Commit validates generation and advances committed_offsets[partition] to
// max(committed, nextOffset). Stale generations return ErrFenced.
func (b *Broker) Commit(name, groupName string, generation uint64, partitionID uint32, nextOffset uint64) error {
	return b.commit(name, groupName, generation, partitionID, nextOffset)
}

func (b *Broker) commit(name, groupName string, generation uint64, partitionID uint32, nextOffset uint64) error {
	t, err := b.get(name)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.groupFor(groupName)
	if generation != g.generation {
		return ErrFenced
	}
	if nextOffset > g.committedOffsets[partitionID] {
		g.committedOffsets[partitionID] = nextOffset
	}
	return nil
}

// Nack marks partitionID's outstanding records as to-be-redelivered on the
// next fetch for the same member: it rewinds the fetch cursor back to the
// committed watermark without advancing the committed offset itself.
func (b *Broker) Nack(name, groupName string, conn ConnID, generation uint64, partitionID uint32) error {
	t, err := b.get(name)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.groupFor(groupName)
	if generation != g.generation {
		return ErrFenced
	}
	g.fetchCursor[partitionID] = g.committedOffsets[partitionID]
	return nil
}

// Seek resets every partition's committed offset (and fetch cursor) for the
// group to the beginning or end of the log.
func (b *Broker) Seek(name, groupName string, target string) error {
	t, err := b.get(name)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.groupFor(groupName)
	for pid, part := range t.partitions {
		var offset uint64
		switch target {
		case "end":
			offset = part.endOffset()
		default: // "beginning"
			offset = 0
		}
		g.committedOffsets[uint32(pid)] = offset
		g.fetchCursor[uint32(pid)] = offset
	}
	return nil
}

// SweepRetention drops the oldest prefix of every partition in every topic
// that exceeds its configured age or byte bound, never dropping records at
// or past the minimum committed offset across that partition's groups.
func (b *Broker) SweepRetention() {
	b.mu.RLock()
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	now := b.nowFn()
	for _, t := range topics {
		t.mu.Lock()
		for pid, part := range t.partitions {
			watermark := t.minCommittedOffsetLocked(uint32(pid))
			var cutoff time.Time
			if t.retention.MaxAge > 0 {
				cutoff = now.Add(-t.retention.MaxAge)
			}
			part.truncateBefore(cutoff, t.retention.MaxBytes, watermark)
		}
		t.mu.Unlock()
	}
}

// minCommittedOffsetLocked returns the minimum committed offset for
// partitionID across every group on the topic, or ^uint64(0) (unbounded) if
// there are no groups, meaning retention is free to drop anything aged/sized
// out. Caller holds t.mu.
func (t *topic) minCommittedOffsetLocked(partitionID uint32) uint64 {
	if len(t.groups) == 0 {
		return ^uint64(0)
	}
	min := ^uint64(0)
	for _, g := range t.groups {
		if off, ok := g.committedOffsets[partitionID]; ok && off < min {
			min = off
		}
	}
	return min
}

// TopicSnapshot is a point-in-time view of one topic for the HTTP read API.
type TopicSnapshot struct {
	Name       string
	Partitions []PartitionSnapshot
	Groups     []GroupSnapshot
}

// PartitionSnapshot is one partition's records at snapshot time.
type PartitionSnapshot struct {
	Partition uint32
	Records   []Record
	EndOffset uint64 // seq one past the newest record; used to compute consumer lag
}

// GroupSnapshot is one consumer group's progress at snapshot time.
type GroupSnapshot struct {
	Name             string
	Generation       uint64
	Members          []ConnID
	CommittedOffsets map[uint32]uint64
}

// Snapshot clones every topic's partitions and group progress.
func (b *Broker) Snapshot() []TopicSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]TopicSnapshot, 0, len(b.topics))
	for name, t := range b.topics {
		t.mu.Lock()
		parts := make([]PartitionSnapshot, len(t.partitions))
		for i, p := range t.partitions {
			recs := make([]Record, len(p.records))
			copy(recs, p.records)
			parts[i] = PartitionSnapshot{Partition: uint32(i), Records: recs, EndOffset: p.endOffset()}
		}
		groups := make([]GroupSnapshot, 0, len(t.groups))
		for gname, g := range t.groups {
			members := make([]ConnID, 0, len(g.members))
			for c := range g.members {
				members = append(members, c)
			}
			offsets := make(map[uint32]uint64, len(g.committedOffsets))
			for p, off := range g.committedOffsets {
				offsets[p] = off
			}
			groups = append(groups, GroupSnapshot{
				Name: gname, Generation: g.generation, Members: members, CommittedOffsets: offsets,
			})
		}
		t.mu.Unlock()
		out = append(out, TopicSnapshot{Name: name, Partitions: parts, Groups: groups})
	}
	return out
}
