/*
Package types defines the core data structures used throughout archapi.

The types package holds the domain model shared by the catalog, the resolver,
the job ledger, the device service and the fleet orchestrator. It has no
dependencies on other archapi packages.

# Core Types

Module and configuration definitions:

  - ModuleDefinition: a deployable container unit keyed by module type
  - ContainerSpec: the normalized launch specification of a module
  - ConfigurationDefinition: a named set of module instances for one robot type
  - ResolvedConfiguration: a configuration merged with its module definitions

Jobs:

  - Job: one asynchronous unit of mutating work (set-configuration, pull-image)
  - JobStatus: processing, complete, error, terminated
  - LogEntry: a timestamped job log line

Fleets:

  - Fleet: a named, ordered set of device hostnames
  - FleetCorrelationRecord: the last fleet-wide job and the per-device jobs it started

# Normalized Container Specs

Module files use compose-like notation. After loading, a ContainerSpec
always has:

	ports:   {"80": 8080}                          # internal -> external
	volumes: {"/data": {target: "/data", mode: rw}} # host -> bind
	restart_policy: {Name: always}

Command and Environment accept both string and list forms in YAML, see
Command.UnmarshalYAML and Environment.UnmarshalYAML.

# Immutability

Definitions loaded by the catalog are shared between callers. Every consumer
that needs to change a spec works on ContainerSpec.Clone, and ledger readers
work on Job.Clone, so no caller ever observes another caller's mutation.
*/
package types
