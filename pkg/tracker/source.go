package tracker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/types"
)

// ReadFixes decodes newline-delimited JSON fixes from r onto out and closes
// out when r is exhausted or ctx is done. Malformed lines are skipped.
func ReadFixes(ctx context.Context, r io.Reader, out chan<- types.Fix) error {
	defer close(out)

	logger := log.WithComponent("fix-source")
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var fix types.Fix
		if err := json.Unmarshal(raw, &fix); err != nil {
			logger.Warn().Err(err).Int("line", line).Msg("Skipping malformed fix")
			continue
		}

		select {
		case out <- fix:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read fixes: %w", err)
	}
	return nil
}
