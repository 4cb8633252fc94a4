// File: internal/runner/follow.go
package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
)

// FollowLog tails the log file at path and writes each line to out
// until ctx is cancelled. With fromStart the whole file replays first;
// otherwise following begins at the current end. The file is reopened
// on rotation.
func FollowLog(ctx context.Context, path string, out io.Writer, fromStart bool) error {
	cfg := tail.Config{
		Follow: true,
		ReOpen: true,
		Poll:   true,
		Logger: tail.DiscardingLogger,
	}
	if !fromStart {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
		cfg.MustExist = true
	}

	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to tail log file %s: %w", path, err)
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return fmt.Errorf("log follow error: %w", line.Err)
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}
