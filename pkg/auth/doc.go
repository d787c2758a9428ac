/*
Package auth keeps outbound requests authenticated across access-token expiry.

Coordinator is an http.RoundTripper. Every request that goes through it gets
the current bearer token and API key. When a response comes back 401:

 1. Requests to the auth endpoints themselves pass through untouched.
 2. A request already carrying the X-Trail-Retry marker is not retried, so
    each original call is retried at most once.
 3. Otherwise the coordinator refreshes the token over its own http.Client,
    which does not route back through the coordinator. Concurrent 401s join
    the same in-flight refresh (singleflight) rather than each starting one.
 4. On success the original request is reissued with the new token and the
    marker.

A refresh that the server rejects, or whose response cannot be parsed, is
final: with a local PIN configured the session moves to PinRequired and the
Escalation fires; without one the session is cleared. A refresh that gets no
verdict (network failure, 408/429/5xx from the token endpoint) changes
nothing, and the next natural 401 tries again.

In every failure case the caller receives the original 401 response
unchanged; the coordinator never turns a refresh failure into a transport
error.
*/
package auth
