package app

import (
	"database/sql"

	"github.com/RezaEskandarii/gofire/internal/notifier"
	"github.com/prometheus/client_golang/prometheus"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom DB instead of creating from config
	db          *sql.DB
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	newListener notifier.ListenerFactory
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithMetricsRegistry registers scheduler metrics on reg and serves reg on
// /metrics instead of the prometheus default registry.
func WithMetricsRegistry(reg *prometheus.Registry) ContainerOption {
	return func(c *containerConfig) {
		c.registerer = reg
		c.gatherer = reg
	}
}

// WithListenerFactory replaces the pq LISTEN connection.
func WithListenerFactory(factory notifier.ListenerFactory) ContainerOption {
	return func(c *containerConfig) {
		c.newListener = factory
	}
}
