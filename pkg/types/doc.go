/*
Package types defines the data structures shared across the trail pipeline.

A raw Fix from the platform becomes a LocationSample once the sampler accepts
it and stamps the owning user. The durable queue wraps each sample into a
BufferedEntry with a monotonic ID and attempt bookkeeping. A delivered entry
comes back from the remote as a Record.

SessionCredential and AuthState describe the signed-in user and where the
session sits in the refresh state machine:

	authenticated ──401──▶ refresh_pending ──ok──▶ authenticated
	                               │
	                               ├─rejected, PIN set──▶ pin_required ──unlock──▶ refresh_pending
	                               └─rejected, no PIN───▶ logged_out

Outcome tags a single delivery or flush result.

LocationSample and BufferedEntry carry integer-keyed CBOR tags; they are the
on-disk format of the queue and must stay stable across releases.
*/
package types
