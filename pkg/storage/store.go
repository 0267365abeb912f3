package storage

import (
	"github.com/cuemby/archapi/pkg/types"
)

// Store persists the small amount of state a device owns: the job id
// sequence and the last correlation record of every fleet it led.
type Store interface {
	// Jobs
	NextJobID() (int64, error)

	// Fleet correlation records, one per fleet name
	SaveRecord(rec *types.FleetCorrelationRecord) error
	GetRecord(fleet string) (*types.FleetCorrelationRecord, error)
	ListRecords() ([]*types.FleetCorrelationRecord, error)
	DeleteRecord(fleet string) error

	// Utility
	Close() error
}
