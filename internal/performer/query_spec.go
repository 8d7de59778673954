package performer

import (
	"fmt"
	"strings"
)

// QuerySpec selects queues by an allow list or a deny list. The zero
// value matches every queue.
type QuerySpec struct {
	Queues  []string
	Exclude bool
}

// ParseQuerySpec parses "*", "a,b" (allow list) or "-a,b" (deny list).
func ParseQuerySpec(s string) (QuerySpec, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return QuerySpec{}, nil
	}

	var spec QuerySpec
	if strings.HasPrefix(s, "-") {
		spec.Exclude = true
		s = s[1:]
	}
	for _, q := range strings.Split(s, ",") {
		q = strings.TrimSpace(q)
		if q == "" {
			return QuerySpec{}, fmt.Errorf("empty queue name in %q", s)
		}
		if q == "*" {
			return QuerySpec{}, fmt.Errorf("wildcard cannot be combined with queue names in %q", s)
		}
		spec.Queues = append(spec.Queues, q)
	}
	return spec, nil
}

// Matches reports whether jobs of queue are selected.
func (q QuerySpec) Matches(queue string) bool {
	if len(q.Queues) == 0 {
		return true
	}
	for _, name := range q.Queues {
		if name == queue {
			return !q.Exclude
		}
	}
	return q.Exclude
}

func (q QuerySpec) String() string {
	if len(q.Queues) == 0 {
		return "*"
	}
	s := strings.Join(q.Queues, ",")
	if q.Exclude {
		return "-" + s
	}
	return s
}
