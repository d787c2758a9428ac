/*
Package syncer drains the durable queue to the remote service.

Engine.Flush takes up to maxBatch (default 25) of the oldest entries and walks
them in insertion order:

  - an entry recorded for a different user than the signed-in one is deleted
    without a network attempt;
  - otherwise it is delivered, one at a time;
  - the first failed delivery is annotated on the entry, classified, and ends
    the walk. Newer entries are not attempted.

Confirmed deliveries and foreign entries are deleted in one batch after the
walk, whether or not it ended early, so an abandoned or failed flush always
leaves a valid queue. Flushes are serialised; a second caller waits for the
first to finish.

With no signed-in user Flush returns an auth failure and leaves the queue
alone: the backlog is judged by whoever signs in next.
*/
package syncer
