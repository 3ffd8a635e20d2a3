package device

import "fmt"

// UnknownLabelError reports a classifier label outside the decoder's table.
// It usually means the classifier artifact was retrained with a different
// label count than the one the decoder was built from.
type UnknownLabelError struct {
	Label int
}

// Error implements the error interface.
func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("unknown label %d: not in the model's label table", e.Label)
}
