package parser

import (
	"fmt"

	"github.com/c360/blinkrelay/errors"
)

// Rejection reasons. All wrap errors.ErrInvalidData so callers can treat them
// as invalid input without matching each one.
var (
	ErrEmptyLine    = fmt.Errorf("%w: empty line", errors.ErrInvalidData)
	ErrTooFewFields = fmt.Errorf("%w: fewer than 2 fields", errors.ErrInvalidData)
	ErrNotNumeric   = fmt.Errorf("%w: signal or peak is not numeric", errors.ErrInvalidData)
)
