package rollback

import (
	"sort"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

const defaultPriority = 10

// Restore order: data stores before the services that need them
var servicePriority = map[string]int{
	"postgres":             1,
	"redis":                2,
	"api":                  3,
	"qdrant":               4,
	"ollama":               5,
	"worker":               6,
	"coordination-service": 7,
	"reasoning-service":    7,
	"webui":                8,
}

// ServicePriority returns the restore priority of a service; lower runs first
func ServicePriority(service string) int {
	if p, ok := servicePriority[service]; ok {
		return p
	}
	return defaultPriority
}

// OperationPriority is the most urgent priority among the services
func OperationPriority(services []string) int {
	best := defaultPriority
	for _, s := range services {
		if p := ServicePriority(s); p < best {
			best = p
		}
	}
	return best
}

// orderServices sorts services into restore order
func orderServices(services []string) []string {
	out := append([]string(nil), services...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := ServicePriority(out[i]), ServicePriority(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}

// sortQueueLocked orders pending operations by priority, then age; m.mu must be held
func (m *Manager) sortQueueLocked() {
	sort.SliceStable(m.queue, func(i, j int) bool {
		a, b := m.operations[m.queue[i]], m.operations[m.queue[j]]
		return runsBefore(a, b)
	})
}

func runsBefore(a, b *domain.RollbackOperation) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
