package scheduler

import "errors"

// ErrClosed is returned when an operation is submitted after the scheduler
// has been closed.
//
// This error is returned when:
//   - AddOperation, ExpediteOperation(s), or ExpediteOperationAndWait is
//     called after Close has been invoked.
var ErrClosed = errors.New("scheduler: closed")
