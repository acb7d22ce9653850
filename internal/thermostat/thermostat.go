// Package thermostat holds the vendor-neutral view of a thermostat that the
// hold builder, poller and daemon reason about. All temperatures are decimal
// degrees; conversion to the wire's tenths happens in the API client.
package thermostat

import (
	"fmt"
	"strings"
	"time"
)

// FanMode is the fan setting carried by a hold.
type FanMode string

const (
	FanAuto FanMode = "auto"
	FanOn   FanMode = "on"
)

// HoldType selects when a hold ends. The zero value leaves the choice to the
// vendor and is sent by omitting the field.
type HoldType string

const (
	HoldUnset          HoldType = ""
	HoldNextTransition HoldType = "nextTransition"
	HoldIndefinite     HoldType = "indefinite"
)

func (h HoldType) String() string {
	if h == HoldUnset {
		return "unset"
	}
	return string(h)
}

// Snapshot is a read-only projection of the thermostat state.
type Snapshot struct {
	Identifier string
	Name       string
	Connected  bool

	DesiredHeat       float64
	DesiredCool       float64
	DesiredFan        string
	ActualTemperature *float64
	ActualHumidity    *int
	HVACMode          string

	HeatCoolMinDelta float64
	HeatRangeLow     float64
	HeatRangeHigh    float64
	CoolRangeLow     float64
	CoolRangeHigh    float64

	LastModified    time.Time
	EventType       string
	EventEnd        *time.Time
	EquipmentStatus []string
}

// HoldParams is a validated set-hold command. Nil fields are not sent.
type HoldParams struct {
	Fan          *FanMode
	CoolHoldTemp *float64
	HeatHoldTemp *float64
	HoldType     HoldType
}

func (p HoldParams) String() string {
	parts := make([]string, 0, 4)
	if p.Fan != nil {
		parts = append(parts, "fan="+string(*p.Fan))
	}
	if p.HeatHoldTemp != nil {
		parts = append(parts, fmt.Sprintf("heat=%.1f", *p.HeatHoldTemp))
	}
	if p.CoolHoldTemp != nil {
		parts = append(parts, fmt.Sprintf("cool=%.1f", *p.CoolHoldTemp))
	}
	parts = append(parts, "hold="+p.HoldType.String())
	return strings.Join(parts, " ")
}

// Status is the vendor's acknowledgement of a write.
type Status struct {
	Code    int
	Message string
}

// OK reports whether the vendor accepted the command.
func (s Status) OK() bool {
	return s.Code == 0
}
