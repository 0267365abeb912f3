// Package client calls the archapi HTTP API of a device. It backs the
// remote commands of the archapi CLI.
//
// Reads are retried; calls that start or clear jobs are sent once.
// Error envelopes become errors, and a busy refusal becomes an
// errdefs.BusyError naming the blocking job.
package client
