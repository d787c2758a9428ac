/*
Package tracker runs the location pipeline end to end.

	fixes ──▶ intake (sampler) ──buffered──▶ persister (queue insert)
	                                               │ threshold
	                                               ▼
	                         ticker, RequestFlush ──▶ flusher (Flush)

The intake goroutine applies the sampler synchronously. Every accepted
sample is handed to the persister, which is the only writer to the queue
from the pipeline; the hand-off blocks rather than drop, because the
sampler has already measured the next delta from it. The persister never
waits on the network: reaching the flush threshold only requests a flush.
The flusher runs flushes on a ticker, on threshold and on RequestFlush,
one at a time. Stop cancels the pipeline; samples still in the hand-off
are inserted first, and a flush in progress observes the cancellation
between entries and leaves the rest queued.

ReadFixes feeds the pipeline from newline-delimited JSON, which is how
`trail run` replays recorded traces or reads a live feed on stdin.
*/
package tracker
