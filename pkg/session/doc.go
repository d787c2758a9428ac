/*
Package session holds the signed-in user's credential and the auth state
machine that the refresh coordinator drives:

	Authenticated ─▶ RefreshPending ─▶ Authenticated | PinRequired | LoggedOut
	PinRequired   ─▶ RefreshPending   (on local PIN unlock)

A Session is created once per process from the credential store and injected
into the sampler (owner id), the sync engine (ownership checks) and the
coordinator (tokens). Every transition is persisted before it becomes visible,
so a restart resumes in the same state.
*/
package session
