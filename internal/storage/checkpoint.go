package storage

// Checkpoint is the position of the last event applied to a store.
// Written in the same change set as the state it covers, so a restart
// resumes exactly after it.
type Checkpoint struct {
	BlockNumber uint64
	TxIndex     uint64
	LogIndex    uint64
	Timestamp   int64 // block timestamp, unix seconds
}

// Covers reports whether the event at (block, txIndex, logIndex) is at or
// before the checkpoint.
func (c *Checkpoint) Covers(block, txIndex, logIndex uint64) bool {
	if c == nil {
		return false
	}
	if block != c.BlockNumber {
		return block < c.BlockNumber
	}
	if txIndex != c.TxIndex {
		return txIndex < c.TxIndex
	}
	return logIndex <= c.LogIndex
}
