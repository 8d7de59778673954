package config

// StorageDriver names the database that holds jobs. Only Postgres is
// implemented; the zero value is rejected by Validate.
type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
)

func (d StorageDriver) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "unknown"
}

// MessageQueueDriver names the broker used by the queue writer.
type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
)

func (d MessageQueueDriver) String() string {
	if d == RabbitMQ {
		return "rabbitmq"
	}
	return "unknown"
}

// ExecutionMode decides where enqueued jobs run.
//
//   - async: schedulers run inside this process
//   - external: this process only enqueues; a separate worker process executes
//   - inline: jobs execute synchronously at enqueue time
type ExecutionMode string

const (
	ExecutionAsync    ExecutionMode = "async"
	ExecutionExternal ExecutionMode = "external"
	ExecutionInline   ExecutionMode = "inline"
)

func (m ExecutionMode) Valid() bool {
	switch m {
	case ExecutionAsync, ExecutionExternal, ExecutionInline:
		return true
	}
	return false
}
