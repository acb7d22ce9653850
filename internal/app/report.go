package app

import "github.com/joshp123/thermoctl/internal/thermostat"

// Reporter renders user-facing output. Log lines go to the logger instead.
type Reporter interface {
	Snapshot(stage Stage, snap thermostat.Snapshot)
	Hold(params thermostat.HoldParams, status thermostat.Status)
	Notice(msg string)
}

// Stage says when a snapshot was taken.
type Stage string

const (
	StageCurrent Stage = "current"
	StageBefore  Stage = "before"
	StagePoll    Stage = "poll"
)

type discard struct{}

func (discard) Snapshot(Stage, thermostat.Snapshot) {}
func (discard) Hold(thermostat.HoldParams, thermostat.Status) {}
func (discard) Notice(string) {}
