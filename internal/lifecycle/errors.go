package lifecycle

import (
	"errors"
	"fmt"
)

// ErrBadContext indicates a lifecycle request whose arguments are not
// [buffer, absolute path, raw path].
var ErrBadContext = errors.New("bad lifecycle request arguments")

// ReconciliationConflict reports that the host document changed while the
// engine buffer was being pulled into it. The pull is dropped; the next
// tick-gated pull retries with fresh state.
type ReconciliationConflict struct {
	Path            string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("reconciliation conflict on %s: host version moved from %d to %d",
		e.Path, e.ExpectedVersion, e.ActualVersion)
}

// WriteError reports a failed buffer write.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
