package models

import "time"

const (
	TimerModeDuration = "duration"
	TimerModeSchedule = "schedule"
)

// Timer is a charging timer set from the dashboard. Duration timers count
// down from the moment they are set; schedule timers carry wall-clock
// start and end times.
type Timer struct {
	Mode     string     `json:"mode"`
	Duration int        `json:"duration,omitempty"` // minutes
	Start    *time.Time `json:"startTime,omitempty"`
	End      *time.Time `json:"endTime,omitempty"`
}
