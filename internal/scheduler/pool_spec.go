package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RezaEskandarii/gofire/internal/performer"
)

// PoolSpec is one scheduler of a process: which queues it serves and how
// many jobs it runs at once.
type PoolSpec struct {
	Raw     string
	Query   performer.QuerySpec
	Threads int
}

// ParsePoolSpecs parses "queues:threads;queues:threads", for example
// "mice:2;elephants,giraffes:1;-mice,elephants,giraffes:4". A missing
// thread count defaults to defaultThreads.
func ParsePoolSpecs(s string, defaultThreads int) ([]PoolSpec, error) {
	var pools []PoolSpec
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		queues, threads := part, defaultThreads
		if i := strings.LastIndex(part, ":"); i >= 0 {
			n, err := strconv.Atoi(strings.TrimSpace(part[i+1:]))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid thread count in pool %q", part)
			}
			queues, threads = part[:i], n
		}

		query, err := performer.ParseQuerySpec(queues)
		if err != nil {
			return nil, fmt.Errorf("invalid pool %q: %w", part, err)
		}
		pools = append(pools, PoolSpec{Raw: part, Query: query, Threads: threads})
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("no scheduler pools in %q", s)
	}
	return pools, nil
}
