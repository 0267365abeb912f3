/*
Package log provides structured logging for archapi using zerolog.

The package wraps a global zerolog.Logger, initialized once via Init, and
hands out child loggers that carry the context fields used across the
daemon:

	log.WithComponent("orchestrator")   // component=orchestrator
	log.WithDevice("botA")              // device=botA
	log.WithFleet("patrol")             // fleet=patrol
	log.WithJobID(12)                   // job_id=12

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Console output is used when JSONOutput is false, which is the default for
interactive CLI commands. The serve command switches to JSON when the daemon
configuration asks for it.

# Conventions

Components keep their child logger in a struct field rather than calling the
global helpers, so tests can inject zerolog.Nop():

	type Orchestrator struct {
		logger zerolog.Logger
	}

Errors are attached with Err(err); identifiers use typed fields (Int64 for job
ids, Str for hostnames), never string formatting.
*/
package log
