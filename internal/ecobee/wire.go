package ecobee

import (
	"strings"
	"time"

	"github.com/joshp123/thermoctl/internal/temp"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

// lastModifiedLayout is the vendor timestamp format. lastModified is UTC;
// event end times are thermostat local time.
const lastModifiedLayout = "2006-01-02 15:04:05"

type selection struct {
	SelectionType  string `json:"selectionType"`
	SelectionMatch string `json:"selectionMatch"`

	IncludeSettings             bool `json:"includeSettings,omitempty"`
	IncludeSensors              bool `json:"includeSensors,omitempty"`
	IncludeEquipmentStatus      bool `json:"includeEquipmentStatus,omitempty"`
	IncludeWeather              bool `json:"includeWeather,omitempty"`
	IncludeDevice               bool `json:"includeDevice,omitempty"`
	IncludeEvents               bool `json:"includeEvents,omitempty"`
	IncludeProgram              bool `json:"includeProgram,omitempty"`
	IncludeRuntime              bool `json:"includeRuntime,omitempty"`
	IncludeEnergy               bool `json:"includeEnergy,omitempty"`
	IncludeElectricity          bool `json:"includeElectricity,omitempty"`
	IncludeExtendedRuntime      bool `json:"includeExtendedRuntime,omitempty"`
	IncludeNotificationSettings bool `json:"includeNotificationSettings,omitempty"`
	IncludeAlerts               bool `json:"includeAlerts,omitempty"`
}

// registered selects every thermostat on the account.
func registered() selection {
	return selection{SelectionType: "registered", SelectionMatch: ""}
}

// readSelection is the registered selection with the full include set.
func readSelection() selection {
	s := registered()
	s.IncludeSettings = true
	s.IncludeSensors = true
	s.IncludeEquipmentStatus = true
	s.IncludeWeather = true
	s.IncludeDevice = true
	s.IncludeEvents = true
	s.IncludeProgram = true
	s.IncludeRuntime = true
	s.IncludeEnergy = true
	s.IncludeElectricity = true
	s.IncludeExtendedRuntime = true
	s.IncludeNotificationSettings = true
	s.IncludeAlerts = true
	return s
}

type readRequest struct {
	Selection selection `json:"selection"`
}

type status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Status status `json:"status"`
}

type thermostatResponse struct {
	ThermostatList []wireThermostat `json:"thermostatList"`
	Status         status           `json:"status"`
}

type wireThermostat struct {
	Identifier      string      `json:"identifier"`
	Name            string      `json:"name"`
	LastModified    string      `json:"lastModified"`
	EquipmentStatus string      `json:"equipmentStatus"`
	Runtime         wireRuntime `json:"runtime"`
	Settings        wireSetting `json:"settings"`
	Events          []wireEvent `json:"events"`
}

type wireRuntime struct {
	Connected         bool   `json:"connected"`
	ActualTemperature *int   `json:"actualTemperature"`
	ActualHumidity    *int   `json:"actualHumidity"`
	DesiredHeat       int    `json:"desiredHeat"`
	DesiredCool       int    `json:"desiredCool"`
	DesiredFanMode    string `json:"desiredFanMode"`
}

type wireSetting struct {
	HVACMode         string `json:"hvacMode"`
	HeatCoolMinDelta int    `json:"heatCoolMinDelta"`
	HeatRangeHigh    int    `json:"heatRangeHigh"`
	HeatRangeLow     int    `json:"heatRangeLow"`
	CoolRangeHigh    int    `json:"coolRangeHigh"`
	CoolRangeLow     int    `json:"coolRangeLow"`
}

type wireEvent struct {
	Type    string `json:"type"`
	Running bool   `json:"running"`
	EndDate string `json:"endDate"`
	EndTime string `json:"endTime"`
}

type holdFunction struct {
	Type   string     `json:"type"`
	Params holdParams `json:"params"`
}

type holdParams struct {
	HoldType     string `json:"holdType,omitempty"`
	CoolHoldTemp *int   `json:"coolHoldTemp,omitempty"`
	HeatHoldTemp *int   `json:"heatHoldTemp,omitempty"`
	Fan          string `json:"fan,omitempty"`
}

type writeRequest struct {
	Selection selection      `json:"selection"`
	Functions []holdFunction `json:"functions"`
}

// sensorUnavailable is reported in place of a reading the thermostat lacks.
const sensorUnavailable = -5002

func (w wireThermostat) snapshot(loc *time.Location) thermostat.Snapshot {
	snap := thermostat.Snapshot{
		Identifier:       w.Identifier,
		Name:             w.Name,
		Connected:        w.Runtime.Connected,
		DesiredHeat:      temp.FromAPI(w.Runtime.DesiredHeat),
		DesiredCool:      temp.FromAPI(w.Runtime.DesiredCool),
		DesiredFan:       w.Runtime.DesiredFanMode,
		HVACMode:         w.Settings.HVACMode,
		HeatCoolMinDelta: temp.FromAPI(w.Settings.HeatCoolMinDelta),
		HeatRangeLow:     temp.FromAPI(w.Settings.HeatRangeLow),
		HeatRangeHigh:    temp.FromAPI(w.Settings.HeatRangeHigh),
		CoolRangeLow:     temp.FromAPI(w.Settings.CoolRangeLow),
		CoolRangeHigh:    temp.FromAPI(w.Settings.CoolRangeHigh),
		EquipmentStatus:  splitEquipment(w.EquipmentStatus),
	}
	if t := w.Runtime.ActualTemperature; t != nil && *t != sensorUnavailable {
		v := temp.FromAPI(*t)
		snap.ActualTemperature = &v
	}
	if h := w.Runtime.ActualHumidity; h != nil && *h != sensorUnavailable {
		v := *h
		snap.ActualHumidity = &v
	}
	if ts, err := time.ParseInLocation(lastModifiedLayout, w.LastModified, time.UTC); err == nil {
		snap.LastModified = ts
	}
	for _, event := range w.Events {
		if !event.Running {
			continue
		}
		snap.EventType = event.Type
		if end, err := time.ParseInLocation(lastModifiedLayout, event.EndDate+" "+event.EndTime, loc); err == nil {
			snap.EventEnd = &end
		}
		break
	}
	return snap
}

func splitEquipment(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func toWireHold(p thermostat.HoldParams) holdParams {
	out := holdParams{HoldType: string(p.HoldType)}
	if p.Fan != nil {
		out.Fan = string(*p.Fan)
	}
	if p.CoolHoldTemp != nil {
		v := temp.ToAPI(*p.CoolHoldTemp)
		out.CoolHoldTemp = &v
	}
	if p.HeatHoldTemp != nil {
		v := temp.ToAPI(*p.HeatHoldTemp)
		out.HeatHoldTemp = &v
	}
	return out
}
