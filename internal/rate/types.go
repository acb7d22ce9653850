package rate

import "time"

// Window is the length of a request budget.
type Window int

const (
	Minute Window = iota
	Hour
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	default:
		return "unknown"
	}
}

// Duration returns the refill period of the window.
func (w Window) Duration() time.Duration {
	if w == Hour {
		return time.Hour
	}
	return time.Minute
}

// Declaration describes the request budget for one vendor API.
type Declaration struct {
	provider   string
	limits     map[Window]int
	retryAfter string
	maxBackoff time.Duration
}

// Provider starts a declaration for the named API.
func Provider(name string) Declaration {
	return Declaration{provider: name, retryAfter: "Retry-After", maxBackoff: 10 * time.Minute}
}

// MaxRequestsPer caps requests inside a window. Declarations are values, so
// each call copies the limit map.
func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// MaxBackoff bounds a server-requested cooldown.
func (d Declaration) MaxBackoff(max time.Duration) Declaration {
	d.maxBackoff = max
	return d
}

// Ecobee is the budget used for the thermostat API. The minute window has to
// fit the one-second status poll after a hold.
func Ecobee() Declaration {
	return Provider("ecobee").
		MaxRequestsPer(Minute, 90).
		MaxRequestsPer(Hour, 1200)
}
