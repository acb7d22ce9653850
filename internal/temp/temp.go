// Package temp converts between the vendor's integer tenths of a degree and
// decimal degrees, and parses user supplied absolute or relative temperatures.
package temp

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrParse matches every *ParseError.
var ErrParse = errors.New("invalid temperature")

// ParseError reports a temperature string that is not a decimal number.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid temperature %q", e.Input)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// FromAPI converts integer tenths of a degree to decimal degrees.
func FromAPI(tenths int) float64 {
	return float64(tenths) / 10
}

// ToAPI converts decimal degrees to integer tenths, rounding half away from zero.
func ToAPI(degrees float64) int {
	return int(math.Round(degrees * 10))
}

// ParseAbsolute parses a plain decimal temperature.
func ParseAbsolute(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, &ParseError{Input: s}
	}
	return value, nil
}

// ParseRelative resolves "+n" and "-n" against current. Anything else is
// parsed as an absolute value.
func ParseRelative(s string, current float64) (float64, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(trimmed, "+"):
		delta, err := parseDelta(trimmed[1:])
		if err != nil {
			return 0, &ParseError{Input: s}
		}
		return current + delta, nil
	case strings.HasPrefix(trimmed, "-"):
		delta, err := parseDelta(trimmed[1:])
		if err != nil {
			return 0, &ParseError{Input: s}
		}
		return current - delta, nil
	default:
		return ParseAbsolute(trimmed)
	}
}

// parseDelta rejects a second sign so "+-2" is not read as "-2".
func parseDelta(s string) (float64, error) {
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrParse
	}
	return ParseAbsolute(s)
}
