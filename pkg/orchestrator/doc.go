/*
Package orchestrator runs container actions for a single device.

An Orchestrator accepts two kinds of mutating work, applying a resolved
configuration and pulling an image. Both go through the same admission:
the job ledger refuses a new job while another one is active and the
caller receives a busy Ticket carrying the blocking job id. Admitted jobs
are handed to one long-lived worker goroutine and the caller returns at
once; progress is read back through Status.

Applying a configuration runs these steps in order, recording a log line
and progress after each:

 1. stop and remove every container this daemon manages, and any other
    container holding a name one of the new modules needs
 2. pull the images that are not present locally
 3. create and start each module, sorted by instance name

The first failing step marks the job as error and nothing after it runs.

ClearJobs cancels the action in flight, waits for the worker to become idle
and then empties the ledger, so a cleared device never keeps mutating
containers on behalf of a job nobody can see any more.
*/
package orchestrator
