package conversation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidQuantity = errors.New("invalid quantity")

// Optional "+", one digit, then at least six digits, spaces or hyphens.
var phonePattern = regexp.MustCompile(`^\+?\d[\d\s-]{6,}$`)

func ValidatePhone(text string) bool {
	return phonePattern.MatchString(strings.TrimSpace(text))
}

// MaxQuantity is the largest quantity every sink can store as an integer.
const MaxQuantity = math.MaxInt32

// ParseQuantity accepts a base-10 integer between 1 and MaxQuantity.
func ParseQuantity(text string) (int, error) {
	qty, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number", ErrInvalidQuantity, text)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("%w: %d is not positive", ErrInvalidQuantity, qty)
	}
	if qty > MaxQuantity {
		return 0, fmt.Errorf("%w: %d is above %d", ErrInvalidQuantity, qty, MaxQuantity)
	}
	return qty, nil
}
