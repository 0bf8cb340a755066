package store

import (
	"chroniq.app/engine/core/db"
)

type Stores struct {
	db db.DBTX
}

func NewStores(dbtx db.DBTX) *Stores {
	return &Stores{db: dbtx}
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.db)
}

func (s *Stores) Checkpoints() CheckpointStore {
	return newCheckpointStore(s.db)
}

func (s *Stores) Entries() EntryStore {
	return newEntryStore(s.db)
}

func (s *Stores) Evidence() EvidenceStore {
	return newEvidenceStore(s.db)
}

func (s *Stores) Events() EventStore {
	return newEventStore(s.db)
}
