/*
Package storage persists the state a device must not lose across restarts.

Two things are stored:

  - the job id sequence, so job ids stay monotonic per device even after the
    daemon restarts
  - one FleetCorrelationRecord per fleet name, overwritten by every
    fleet-wide set-configuration led from this device

# Backends

MemoryStore keeps everything in process memory and is the default when no
state directory is configured. BoltStore keeps the same data in a bbolt file
at <state_dir>/archapi.db:

	jobs           sequence only (bucket NextSequence)
	fleet_records  fleet name -> JSON record

Records are JSON encoded with the field names of types.FleetCorrelationRecord.
Reads use db.View, writes db.Update, so concurrent readers never block on a
writer.

# Staleness

A record may outlive the jobs it points at: the job ledger is in memory and
is emptied on restart or on an explicit clear. Callers compare the record's
Instance with the main device's current boot id to detect this; the store
itself never rewrites a record.
*/
package storage
