/*
Package fleet runs configuration operations across a fleet of devices.

A fleet is a named, ordered set of hostnames read from <fleet_dir>/<name>.yaml:

	devices:
	  watchtower01: watchtower
	  autobot01: duckiebot

The device the daemon runs on leads: it answers for itself in process through
its device.Service and reaches every other member over HTTP (Members). Calls
to members run concurrently, bounded by Config.Concurrency, each with its own
timeout. A member that fails or times out is reported in the aggregate and
never aborts its siblings.

# Set-configuration

ConfigurationSetConfig is all-or-nothing at admission:

 1. the configuration is resolved on the leader; a miss ends the call
 2. clearance is asked from the leader and every member
 3. any busy or unreachable device rejects the call, naming each one,
    and no device receives a set-configuration
 4. the leader admits its job; its id becomes the fleet's correlation id
 5. every member is asked to set the configuration and its job id is kept

The resulting FleetCorrelationRecord is saved in storage and replaces the
previous record of the fleet. Mutating fleet calls are serialized.

# Monitoring

MonitorID only answers for the id in the fleet's record. A mismatched id or a
missing record fails before any device is contacted. A record whose leader
job no longer exists, or whose boot instance differs from the leader's
current one, is reported as stale.
*/
package fleet
