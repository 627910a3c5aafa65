package llm

import (
	"context"
	"errors"
	"fmt"
)

// ExternalServiceError is returned when the language model is unreachable,
// times out or answers with content that doesn't match the expected schema.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call was cut off by its deadline.
func (e *ExternalServiceError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
