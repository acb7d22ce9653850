// Package hold turns requested fan and setpoint changes into a validated
// setHold command for the current thermostat state.
package hold

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joshp123/thermoctl/internal/temp"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

var (
	ErrInvalidFanMode   = errors.New("invalid fan mode")
	ErrInvalidHoldType  = errors.New("invalid hold type")
	ErrDeltaTooSmall    = errors.New("heat/cool delta too small")
	ErrOutOfRange       = errors.New("setpoint out of range")
	ErrNothingRequested = errors.New("no fan, heat or cool change requested")
)

// ValidationError names the constraint a request violated.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, format string, args ...any) error {
	return &ValidationError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// Request holds the raw user input. Empty fields were not requested.
type Request struct {
	Fan      string
	Cool     string
	Heat     string
	HoldType string
}

// ParseFanMode accepts auto, off (treated as auto) and on.
func ParseFanMode(value string) (thermostat.FanMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "auto", "off":
		return thermostat.FanAuto, nil
	case "on":
		return thermostat.FanOn, nil
	default:
		return "", invalid(ErrInvalidFanMode, "%q (want auto, off or on)", value)
	}
}

// ParseHoldType accepts nextTransition (or next) and indefinite, in any case
// like ParseFanMode. Empty input is HoldUnset.
func ParseHoldType(value string) (thermostat.HoldType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return thermostat.HoldUnset, nil
	case "nexttransition", "next":
		return thermostat.HoldNextTransition, nil
	case "indefinite":
		return thermostat.HoldIndefinite, nil
	default:
		return "", invalid(ErrInvalidHoldType, "%q (want nextTransition, next or indefinite)", value)
	}
}

// Build validates req against snap and returns the command to send.
func Build(req Request, snap thermostat.Snapshot) (thermostat.HoldParams, error) {
	var params thermostat.HoldParams

	if strings.TrimSpace(req.Fan) != "" {
		fan, err := ParseFanMode(req.Fan)
		if err != nil {
			return thermostat.HoldParams{}, err
		}
		params.Fan = &fan
	}

	cool, err := resolveTenths("cool", req.Cool, snap.DesiredCool)
	if err != nil {
		return thermostat.HoldParams{}, err
	}
	heat, err := resolveTenths("heat", req.Heat, snap.DesiredHeat)
	if err != nil {
		return thermostat.HoldParams{}, err
	}

	params.HoldType, err = ParseHoldType(req.HoldType)
	if err != nil {
		return thermostat.HoldParams{}, err
	}

	if params.Fan == nil && heat == nil && cool == nil {
		return thermostat.HoldParams{}, &ValidationError{Err: ErrNothingRequested}
	}
	if heat == nil && cool == nil {
		return params, nil
	}

	h, c, err := pair(heat, cool, snap)
	if err != nil {
		return thermostat.HoldParams{}, err
	}
	if err := checkRanges(h, c, snap); err != nil {
		return thermostat.HoldParams{}, err
	}
	setTemps(&params, h, c)
	return params, nil
}

// Setpoints builds the fixed heat/cool pair the daemon issues. Only the
// minimum delta is checked; the thermostat's ranges are left to the vendor,
// whose status is reported like any other hold result.
func Setpoints(heat, cool float64, holdType thermostat.HoldType, snap thermostat.Snapshot) (thermostat.HoldParams, error) {
	h, c := temp.ToAPI(heat), temp.ToAPI(cool)
	h, c, err := pair(&h, &c, snap)
	if err != nil {
		return thermostat.HoldParams{}, err
	}
	params := thermostat.HoldParams{HoldType: holdType}
	setTemps(&params, h, c)
	return params, nil
}

func resolveTenths(name, value string, current float64) (*int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	degrees, err := temp.ParseRelative(value, current)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	tenths := temp.ToAPI(degrees)
	return &tenths, nil
}

// pair completes a heat/cool pair in tenths, deriving the missing side from
// the current setpoints so the pair keeps at least the minimum delta.
func pair(heat, cool *int, snap thermostat.Snapshot) (int, int, error) {
	minDelta := temp.ToAPI(snap.HeatCoolMinDelta)
	currentHeat := temp.ToAPI(snap.DesiredHeat)
	currentCool := temp.ToAPI(snap.DesiredCool)

	switch {
	case heat != nil && cool != nil:
		if *cool-*heat < minDelta {
			return 0, 0, invalid(ErrDeltaTooSmall, "cool %.1f - heat %.1f < %.1f",
				temp.FromAPI(*cool), temp.FromAPI(*heat), temp.FromAPI(minDelta))
		}
		return *heat, *cool, nil
	case cool != nil:
		h := currentHeat
		if *cool-currentHeat < minDelta {
			h = *cool - minDelta
		}
		return h, *cool, nil
	default:
		c := currentCool
		if currentCool-*heat < minDelta {
			c = *heat + minDelta
		}
		return *heat, c, nil
	}
}

func checkRanges(heat, cool int, snap thermostat.Snapshot) error {
	if err := inRange("cool", cool, snap.CoolRangeLow, snap.CoolRangeHigh); err != nil {
		return err
	}
	return inRange("heat", heat, snap.HeatRangeLow, snap.HeatRangeHigh)
}

// inRange skips the check when the thermostat reported no range.
func inRange(name string, tenths int, low, high float64) error {
	lo, hi := temp.ToAPI(low), temp.ToAPI(high)
	if lo == 0 && hi == 0 {
		return nil
	}
	if tenths < lo || tenths > hi {
		return invalid(ErrOutOfRange, "%s %.1f outside [%.1f, %.1f]", name, temp.FromAPI(tenths), low, high)
	}
	return nil
}

func setTemps(params *thermostat.HoldParams, heat, cool int) {
	h, c := temp.FromAPI(heat), temp.FromAPI(cool)
	params.HeatHoldTemp = &h
	params.CoolHoldTemp = &c
}
