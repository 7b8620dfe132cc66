// Package realtime defines the progress events published while bulk jobs run.
package realtime

type Event string

const (
	EventJobUpdated Event = "JobUpdated"
)

type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}

// JobChannel names the channel carrying one job's events.
func JobChannel(jobUUID string) string { return "job:" + jobUUID }
