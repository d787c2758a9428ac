// Package transport posts queued location samples to the remote telemetry
// endpoint as JSON, one record per request.
//
// The client does not authenticate on its own: the *http.Client it is given
// is expected to carry the auth.Coordinator round tripper, which adds the
// bearer token and handles refresh. Each request carries an Idempotency-Key
// made of the device id, owner and queue entry id, so a delivery that was
// confirmed server-side but lost on the way back is not stored twice.
package transport
