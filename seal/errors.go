package seal

import "fmt"

// The FinalizedError error type is returned by field access on a locked
// Object, naming the operation and the key so use-after-teardown bugs point
// straight at the offending access.
type FinalizedError struct {
	// Op is the attempted operation: "read", "write" or "delete".
	Op string
	// Key is the accessed field name.
	Key string
}

// Error returns the error message and adheres to the Error interface
func (e FinalizedError) Error() string {
	return fmt.Sprintf("seal: %s of key %q on a finalized object", e.Op, e.Key)
}

// IsFinalizedError casts error to FinalizedError.
//
// This is mostly because it's hard to remember that error isn't supposed to
// be cast to *FinalizedError.
func IsFinalizedError(err error) (e FinalizedError, ok bool) {
	e, ok = err.(FinalizedError)
	return
}
