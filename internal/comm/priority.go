package comm

import (
	"fmt"
	"strings"
)

// Priority orders operations on a link queue. Lower values are more urgent.
type Priority int

// Priority levels from most to least urgent.
const (
	PriorityUrgent Priority = iota
	PriorityCommand
	PriorityDownload
	PriorityDeviceData
	PriorityData
	PriorityIdle
)

var priorityNames = [...]string{"urgent", "command", "download", "device_data", "data", "idle"}

// String returns the lower-case priority name.
func (p Priority) String() string {
	if p >= PriorityUrgent && p <= PriorityIdle {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// MoreUrgent reports whether p is strictly more urgent than other.
func (p Priority) MoreUrgent(other Priority) bool {
	return p < other
}

// ParsePriority parses a priority name such as "command".
func ParsePriority(s string) (Priority, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("comm: unknown priority %q", s)
}
