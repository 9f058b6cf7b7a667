package convert

// SequenceGate discards converted frames that arrive after a newer one was
// already accepted. Workers finish out of order; the muxer must not.
type SequenceGate struct {
	last    uint64
	started bool
	skipped uint64
}

// Accept reports whether seq is newer than every sequence accepted so far.
func (g *SequenceGate) Accept(seq uint64) bool {
	if g.started && seq <= g.last {
		g.skipped++
		return false
	}
	g.started = true
	g.last = seq
	return true
}

// Skipped returns how many results Accept rejected.
func (g *SequenceGate) Skipped() uint64 { return g.skipped }

// Last returns the newest accepted sequence.
func (g *SequenceGate) Last() (uint64, bool) { return g.last, g.started }
