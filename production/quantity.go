package production

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNothingRemaining is returned when a phase has no startable quantity.
	ErrNothingRemaining = errors.New("nothing remaining at phase")

	// ErrInvalidQuantity is returned for a finish quantity that is not a
	// whole number within the allowed range.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// ParseQuantity validates an operator-entered finish quantity against
// 0..limit.
func ParseQuantity(raw string, limit int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number", ErrInvalidQuantity, raw)
	}
	return n, CheckQuantity(n, limit)
}

// CheckQuantity validates an already numeric quantity against 0..limit.
func CheckQuantity(n, limit int) error {
	if n < 0 || n > limit {
		return fmt.Errorf("%w: %d outside 0..%d", ErrInvalidQuantity, n, limit)
	}
	return nil
}
