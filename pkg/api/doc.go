/*
Package api serves the device and fleet APIs over HTTP.

Every route is a GET and every answer is an envelope with HTTP status 200:

	{"status": "ok" | "error" | "busy" | "ready", "message": ..., "data": {...}}

Callers decide on success from the envelope status, never from the HTTP
code. Only unknown routes and the probe endpoints use other codes.

# Routes

	/device/                                   device description
	/device/configuration/status               managed container states
	/device/configuration/list                 configurations of the robot type
	/device/configuration/info/:config         resolved configuration
	/device/configuration/set/:config          start a set-configuration job
	/device/module/list                        module types
	/device/module/info/:module                normalized module definition
	/device/pull/<image>                       start a pull job
	/device/monitor/:id                        job snapshot
	/device/clearance                          would a new job be admitted
	/device/clear                              cancel and forget all jobs
	/device/image/info/<image>                 labels and base image ancestry

	/fleet/scan                                online and offline fleet members
	/fleet/list                                fleet names
	/fleet/info/:fleet                         fleet definition
	/fleet/default/:fleet                      every member's description
	/fleet/configuration/status/:fleet         every member's container states
	/fleet/configuration/info/:config          configuration with sub-configurations
	/fleet/configuration/set/:config/:fleet    set a configuration fleet-wide
	/fleet/monitor/:id/:fleet                  progress of the last fleet job

	/health /live /ready /metrics              probes and Prometheus metrics

Image references contain slashes, so the pull and image routes take the
rest of the path.

# Read-only mode

With Config.ReadOnly the server refuses the set, pull and clear routes
with an error envelope. Reads keep working.
*/
package api
