package tools

import (
	"context"
	"os"
	"time"
)

// writeRetryDelays is the exponential backoff schedule spec.md §5 specifies for
// file-write retries: 50ms, 100ms, 200ms across three attempts.
var writeRetryDelays = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// writeFileWithRetry writes data to path, retrying on transient I/O errors with
// the exponential backoff schedule above. Cancellable via ctx. A "transient" I/O
// error here is any write failure that is not a permission or not-exist error,
// matching the teacher's posture of retrying indiscriminately on unknown os.*
// failures while giving up immediately on errors a retry cannot fix.
func writeFileWithRetry(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	var lastErr error
	for attempt := 0; attempt <= len(writeRetryDelays); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := os.WriteFile(path, data, perm)
		if err == nil {
			return nil
		}
		lastErr = err
		if os.IsPermission(err) || os.IsNotExist(err) {
			return err
		}
		if attempt == len(writeRetryDelays) {
			break
		}
		select {
		case <-time.After(writeRetryDelays[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
