/*
Package api implements trail's local admin HTTP surface.

The server is a chi router bound to loopback by default. It exposes the
process health and metrics, and gives an operator the two manual levers the
pipeline has: forcing a flush and unlocking a PIN-locked session.

# Endpoints

	GET  /healthz   component health, 503 if any component is unhealthy
	GET  /readyz    readiness of the queue and tracker
	GET  /livez     always 200 while the process runs
	GET  /metrics   Prometheus exposition
	GET  /status    auth state, signed-in user, queue depth
	POST /flush     run one flush and report its outcome
	POST /unlock    {"pin": "1234"}; verify, refresh, then flush

# Status codes

POST /flush answers 200 when every attempted entry was delivered and 503
otherwise, with the outcome in the body. POST /unlock answers 204 on success,
400 for a malformed body, 403 for a wrong PIN, 409 when no PIN is configured
and 502 when the token refresh after a correct PIN fails.

Tokens are never included in any response.
*/
package api
