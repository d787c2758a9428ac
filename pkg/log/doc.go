/*
Package log provides structured logging for trail using zerolog.

The package wraps a single global zerolog.Logger. Components obtain a child
logger tagged with their name once, at construction time, and log through it:

	logger := log.WithComponent("syncer")
	logger.Info().Int("flushed", n).Msg("Flush completed")

Output is JSON (for log shipping from the device) or the zerolog console
writer (for development). Level filtering is global.

Credentials, refresh tokens and PIN material must never be passed to the
logger. User ids are fine.

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: false,
		Output:     os.Stderr,
	})
*/
package log
