/*
Package classify sorts delivery failures into three classes:

	Transient     retry later, silently (408, 429, 502-504, timeouts, DNS,
	              refused/reset connections, interrupted I/O)
	AuthRequired  session needs a token refresh (401, 403)
	Fatal         everything else, including TLS and certificate failures

Fatal classifications carry a signature built from the class, the status (or
the innermost error type) and the first 64 bytes of the response body. The
Reporter uses it to log each distinct fatal failure at most once per 30
minutes.
*/
package classify
