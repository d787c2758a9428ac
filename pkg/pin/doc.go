// Package pin is the local re-authentication gate. When a token refresh is
// rejected and a PIN is configured, the session parks in PinRequired; a
// successful Unlock refreshes the token directly, returns the session to
// Authenticated and drains the backlog once.
//
// The PIN is stored only as a bcrypt hash in the credential store.
package pin
