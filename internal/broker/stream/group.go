package stream

import "sort"

// group is the consumer-group coordinator for one (topic, group) pair.
type group struct {
	generation       uint64
	members          map[ConnID]bool
	assignment       map[ConnID][]uint32 // partition ids owned, sorted ascending
	committedOffsets map[uint32]uint64   // partition -> next seq to read (durable watermark)
	fetchCursor      map[uint32]uint64   // partition -> next seq to hand out (ephemeral, reset on rebalance)
	inFlight         map[uint32]uint64   // partition -> last fetched seq ceiling, for fencing
}

func newGroup(numPartitions uint32) *group {
	g := &group{
		members:          make(map[ConnID]bool),
		assignment:       make(map[ConnID][]uint32),
		committedOffsets: make(map[uint32]uint64),
		fetchCursor:      make(map[uint32]uint64),
		inFlight:         make(map[uint32]uint64),
	}
	for p := uint32(0); p < numPartitions; p++ {
		g.committedOffsets[p] = 0
		g.fetchCursor[p] = 0
	}
	return g
}

// join adds conn to the group if absent, bumps the generation, and
// recomputes assignment. Re-joining an existing member is a no-op on
// membership but per spec still only bumps generation "on membership
// change" — so a redundant join does not bump.
func (g *group) join(conn ConnID, numPartitions uint32) uint64 {
	if g.members[conn] {
		return g.generation
	}
	g.members[conn] = true
	g.rebalance(numPartitions)
	return g.generation
}

// leave removes conn (on disconnect) and rebalances the remainder.
func (g *group) leave(conn ConnID, numPartitions uint32) {
	if !g.members[conn] {
		return
	}
	delete(g.members, conn)
	delete(g.assignment, conn)
	g.rebalance(numPartitions)
}

// rebalance recomputes the partition assignment deterministically: sort
// members by connection id, sort partitions ascending, deal round-robin.
// Always bumps the generation since it is only called on membership change.
func (g *group) rebalance(numPartitions uint32) {
	g.generation++

	members := make([]ConnID, 0, len(g.members))
	for c := range g.members {
		members = append(members, c)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	newAssignment := make(map[ConnID][]uint32, len(members))
	for _, c := range members {
		newAssignment[c] = nil
	}
	if len(members) > 0 {
		for p := uint32(0); p < numPartitions; p++ {
			owner := members[int(p)%len(members)]
			newAssignment[owner] = append(newAssignment[owner], p)
		}
	}
	g.assignment = newAssignment

	// Uncommitted ceiling becomes the redelivery floor: any partition whose
	// ownership changed resumes from its committed offset, not mid-stream.
	for p := uint32(0); p < numPartitions; p++ {
		g.fetchCursor[p] = g.committedOffsets[p]
	}
}

// ownsPartition reports whether conn currently owns partition under the
// group's latest assignment.
func (g *group) ownsPartition(conn ConnID, partitionID uint32) bool {
	for _, p := range g.assignment[conn] {
		if p == partitionID {
			return true
		}
	}
	return false
}

// assignedPartitions returns conn's owned partitions in ascending order.
func (g *group) assignedPartitions(conn ConnID) []uint32 {
	return g.assignment[conn]
}
