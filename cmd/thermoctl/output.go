package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joshp123/thermoctl/internal/app"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

// outputMode renders status for the operator, as a table or as JSON lines.
type outputMode struct {
	json bool
	out  io.Writer
}

var _ app.Reporter = outputMode{}

type snapshotView struct {
	Stage        app.Stage  `json:"stage"`
	Identifier   string     `json:"identifier"`
	Name         string     `json:"name"`
	Connected    bool       `json:"connected"`
	Temperature  *float64   `json:"temperature"`
	Humidity     *int       `json:"humidity,omitempty"`
	Heat         float64    `json:"heat"`
	Cool         float64    `json:"cool"`
	Fan          string     `json:"fan"`
	HVACMode     string     `json:"hvacMode"`
	Equipment    []string   `json:"equipment"`
	Event        string     `json:"event,omitempty"`
	EventEnd     *time.Time `json:"eventEnd,omitempty"`
	LastModified time.Time  `json:"lastModified"`
}

type holdView struct {
	Fan      *thermostat.FanMode `json:"fan,omitempty"`
	Heat     *float64            `json:"heat,omitempty"`
	Cool     *float64            `json:"cool,omitempty"`
	HoldType string              `json:"holdType"`
	OK       bool                `json:"ok"`
	Code     int                 `json:"code"`
	Message  string              `json:"message,omitempty"`
}

func (o outputMode) Snapshot(stage app.Stage, snap thermostat.Snapshot) {
	if o.json {
		o.printJSON(snapshotView{
			Stage:        stage,
			Identifier:   snap.Identifier,
			Name:         snap.Name,
			Connected:    snap.Connected,
			Temperature:  snap.ActualTemperature,
			Humidity:     snap.ActualHumidity,
			Heat:         snap.DesiredHeat,
			Cool:         snap.DesiredCool,
			Fan:          snap.DesiredFan,
			HVACMode:     snap.HVACMode,
			Equipment:    snap.EquipmentStatus,
			Event:        snap.EventType,
			EventEnd:     snap.EventEnd,
			LastModified: snap.LastModified,
		})
		return
	}

	rows := [][]string{
		{stageTitle(stage), fmt.Sprintf("%s (%s)", snap.Name, snap.Identifier)},
		{"connected", strconv.FormatBool(snap.Connected)},
		{"temperature", optionalTemp(snap.ActualTemperature)},
	}
	if snap.ActualHumidity != nil {
		rows = append(rows, []string{"humidity", fmt.Sprintf("%d%%", *snap.ActualHumidity)})
	}
	rows = append(rows,
		[]string{"heat setpoint", formatTemp(snap.DesiredHeat)},
		[]string{"cool setpoint", formatTemp(snap.DesiredCool)},
		[]string{"fan", snap.DesiredFan},
		[]string{"mode", snap.HVACMode},
		[]string{"equipment", equipment(snap.EquipmentStatus)},
	)
	if snap.EventType != "" {
		event := snap.EventType
		if snap.EventEnd != nil {
			event += " until " + snap.EventEnd.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{"event", event})
	}
	rows = append(rows, []string{"last modified", snap.LastModified.Local().Format(time.DateTime)})
	o.table(rows)
}

func (o outputMode) Hold(params thermostat.HoldParams, status thermostat.Status) {
	if o.json {
		o.printJSON(holdView{
			Fan:      params.Fan,
			Heat:     params.HeatHoldTemp,
			Cool:     params.CoolHoldTemp,
			HoldType: params.HoldType.String(),
			OK:       status.OK(),
			Code:     status.Code,
			Message:  status.Message,
		})
		return
	}

	result := "accepted"
	if !status.OK() {
		result = fmt.Sprintf("rejected (code %d): %s", status.Code, status.Message)
	}
	o.table([][]string{
		{"hold", params.String()},
		{"result", result},
	})
}

func (o outputMode) Notice(msg string) {
	if o.json {
		o.printJSON(map[string]string{"notice": msg})
		return
	}
	fmt.Fprintln(o.out, msg)
}

func (o outputMode) printJSON(value any) {
	data, err := json.Marshal(value)
	if err != nil {
		fmt.Fprintf(o.out, "{\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintln(o.out, string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(o.out, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func stageTitle(stage app.Stage) string {
	switch stage {
	case app.StageBefore:
		return "before"
	case app.StagePoll:
		return "status"
	default:
		return "thermostat"
	}
}

func formatTemp(degrees float64) string {
	return strconv.FormatFloat(degrees, 'f', 1, 64) + "°F"
}

func optionalTemp(degrees *float64) string {
	if degrees == nil {
		return "unavailable"
	}
	return formatTemp(*degrees)
}

func equipment(running []string) string {
	if len(running) == 0 {
		return "idle"
	}
	return strings.Join(running, ", ")
}
