/*
Package storage is trail's durable state: the sample queue and the credential
store, both in one BoltDB file at <data-dir>/trail.db.

# Queue

Entries live in the "queue" bucket. Keys are the bucket's NextSequence value
encoded big-endian, so cursor order is insertion order and IDs are never
reused, even after the entry is deleted. Values are CBOR (see package codec).

Insert and the capacity trim run in the same transaction: after an insert the
bucket never holds more than capacity (default 500) entries. Eviction takes
the oldest keys, whether or not they have been attempted.

The sampler is the only writer of new entries and the sync engine the only
reader and deleter. MarkAttempt is diagnostic; callers should log and carry
on if it fails.

# Credentials

The "credentials" bucket is a flat string map. The session package decides
which keys exist; this package does not interpret them. Encryption at rest is
left to the platform keystore that backs the data directory.
*/
package storage
