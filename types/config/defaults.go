package config

import "time"

const (
	DefaultStorageDriver              = Postgres
	DefaultExecutionMode              = ExecutionAsync
	DefaultQueues                     = "*:5"
	DefaultThreads                    = 5
	DefaultPollInterval               = 10 * time.Second
	DefaultMaxPollInterval            = time.Minute
	DefaultMaxScan                    = 25
	DefaultMaxAttempts                = 5
	DefaultCleanupInterval            = 10 * time.Minute
	DefaultCleanupPreservedJobsBefore = 14 * 24 * time.Hour
	DefaultHeartbeatInterval          = time.Minute
	DefaultStaleAfterIntervals        = 4
	DefaultNotifyChannel              = "gofire"
	DefaultListenerMinReconnect       = 2 * time.Second
	DefaultListenerMaxReconnect       = time.Minute
	DefaultCronInterval               = 15 * time.Second
	DefaultCronGracePeriod            = time.Minute
	DefaultConcurrencyLimit           = 1
	DefaultShutdownTimeout            = 30 * time.Second
)
