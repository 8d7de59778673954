package types

import (
	"encoding/json"
	"time"
)

// DefaultQueue is used when a job is enqueued without a queue name.
const DefaultQueue = "default"

// Job is one row of the jobs table. FinishedAt is nil until the job reaches
// a terminal state. Locked is only populated by queries that join pg_locks.
type Job struct {
	ID              int64
	QueueName       string
	Priority        int
	JobClass        string
	Payload         json.RawMessage
	ScheduledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PerformedAt     *time.Time
	FinishedAt      *time.Time
	Error           string
	ConcurrencyKey  string
	CronKey         string
	CronAt          *time.Time
	ExecutionsCount int
	RetriedFromID   *int64
	RetriedToID     *int64
	Locked          bool
}

// DueAt returns scheduled_at, or created_at when the job was never scheduled.
func (j *Job) DueAt() time.Time {
	if j.ScheduledAt != nil {
		return *j.ScheduledAt
	}
	return j.CreatedAt
}

// Args decodes the job payload into a list of arguments.
func (j *Job) Args() ([]any, error) {
	if len(j.Payload) == 0 {
		return nil, nil
	}
	var args []any
	if err := json.Unmarshal(j.Payload, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// EnqueueParams describes a unit of work to persist.
type EnqueueParams struct {
	JobClass       string
	Args           []any
	Queue          string
	Priority       int
	ScheduledAt    *time.Time
	ConcurrencyKey string
	CronKey        string
	CronAt         *time.Time
}

// Normalize fills defaults and returns the marshalled arguments.
func (p *EnqueueParams) Normalize() (json.RawMessage, error) {
	if p.Queue == "" {
		p.Queue = DefaultQueue
	}
	args := p.Args
	if args == nil {
		args = []any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
