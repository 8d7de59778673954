package app

import (
	"github.com/RezaEskandarii/gofire/internal/scheduler"
)

// connectionOverhead covers the connections not pinned by running jobs:
// candidate queries, the cron and cleanup lock sessions, migrations and
// operator transactions. The LISTEN connection is opened outside the pool.
const connectionOverhead = 5

// poolSize is the number of pooled connections a process needs. Every
// running job pins one connection for its advisory lock.
func poolSize(pools []scheduler.PoolSpec) int {
	n := connectionOverhead
	for _, p := range pools {
		n += p.Threads
	}
	return n
}
