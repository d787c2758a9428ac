/*
Package security keeps session credentials encrypted at rest.

SealedStore wraps any storage.CredentialStore and seals each value with
AES-256-GCM before it reaches disk. The key name is the additional
authenticated data, so a ciphertext copied under another key fails to open.
Values are base64 encoded to stay printable in the underlying store.

The key comes from a passphrase (SHA-256 derived, for deployments that
inject TRAIL_STORE_PASSPHRASE) or from a random 32-byte key file created
with mode 0600 in the data directory on first use.

The queue itself is not encrypted; samples are delivered as-is and carry no
credentials.
*/
package security
