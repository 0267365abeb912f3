/*
Package device implements the configuration API of a single device.

Service is a facade over the catalog, the resolver, the local orchestrator
and the image tracer. Every operation returns a Result:

	Ok(data)              status "ok", message {}, data
	Error(message, data)  status "error"
	Busy(jobID)           status "error", message naming the job, data {job_id}

Results are converted to the wire Envelope only when they are encoded, so
callers inside the process (the fleet orchestrator leading from this device)
branch on Result.Kind instead of parsing strings.

Clearance is the one operation whose wire status is not ok/error: it answers
"ready" or "busy", the latter with the blocking job id in data.

Monitor never fails: an unknown id is answered with the full job ledger in
the message field so that callers can discover the ids that exist.
*/
package device
