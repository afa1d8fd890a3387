package model

import "fmt"

// SnapshotMeta carries the provenance fields every snapshot adds to its
// source entity.
type SnapshotMeta struct {
	Timestamp   uint64 `json:"timestamp"`
	BlockNumber uint64 `json:"block_number"`
	PeriodStart uint64 `json:"period_start"`
}

// SnapshotID builds the immutable key of a snapshot record.
func SnapshotID(stateID string, blockNumber uint64) string {
	return fmt.Sprintf("%s-%d", stateID, blockNumber)
}

// PoolSnapshot is an immutable copy of a pool taken at a period boundary.
type PoolSnapshot struct {
	Pool
	SnapshotMeta
}

func (s *PoolSnapshot) SnapshotKey() string {
	return SnapshotID(s.Pool.ID, s.BlockNumber)
}

// TrancheSnapshot is an immutable copy of a tranche taken at a period
// boundary.
type TrancheSnapshot struct {
	Tranche
	SnapshotMeta
}

func (s *TrancheSnapshot) SnapshotKey() string {
	return SnapshotID(s.Tranche.ID, s.BlockNumber)
}
