package types

import (
	"encoding/json"
	"time"
)

// Process is a live worker process as recorded in the process registry.
type Process struct {
	ID        string
	State     json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProcessState is the opaque blob a process records about itself.
type ProcessState struct {
	Hostname    string   `json:"hostname"`
	PID         int      `json:"pid"`
	Instance    string   `json:"instance"`
	Schedulers  []string `json:"schedulers"`
	CronEnabled bool     `json:"cron_enabled"`
}
