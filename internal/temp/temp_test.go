package temp

import (
	"errors"
	"testing"
)

func TestAPIRoundTripTenths(t *testing.T) {
	for tenths := -1000; tenths <= 1500; tenths++ {
		if got := ToAPI(FromAPI(tenths)); got != tenths {
			t.Fatalf("ToAPI(FromAPI(%d)) = %d", tenths, got)
		}
	}
}

func TestAPIRoundTripDegrees(t *testing.T) {
	for _, degrees := range []float64{-40.0, -0.5, 0, 0.1, 19.9, 20.5, 65.3, 72.0, 99.9} {
		if got := FromAPI(ToAPI(degrees)); got != degrees {
			t.Fatalf("FromAPI(ToAPI(%v)) = %v", degrees, got)
		}
	}
}

func TestToAPIRounds(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{72.04, 720},
		{72.06, 721},
		{-1.25, -13},
	}
	for _, tt := range tests {
		if got := ToAPI(tt.in); got != tt.want {
			t.Errorf("ToAPI(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseRelative(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		current float64
		want    float64
	}{
		{"plus", "+5", 70.0, 75.0},
		{"minus", "-5", 70.0, 65.0},
		{"absolute ignores current", "72", 70.0, 72.0},
		{"absolute ignores other current", "72", 55.5, 72.0},
		{"fractional delta", "+1.5", 70.0, 71.5},
		{"surrounding spaces", " -0.5 ", 70.0, 69.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRelative(tt.input, tt.current)
			if err != nil {
				t.Fatalf("ParseRelative(%q) returned error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParseRelative(%q, %v) = %v, want %v", tt.input, tt.current, got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "abc", "+", "-x", "*5", "++5", "NaN", "Inf"} {
		_, err := ParseRelative(input, 70)
		if err == nil {
			t.Fatalf("ParseRelative(%q) returned nil error", input)
		}
		if !errors.Is(err, ErrParse) {
			t.Fatalf("ParseRelative(%q) error = %v, want ErrParse", input, err)
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) || parseErr.Input != input {
			t.Fatalf("ParseRelative(%q) error = %#v, want *ParseError with input", input, err)
		}
	}
}
