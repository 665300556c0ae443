package sync

import (
	"comanda/internal/models"
)

// topoOrder returns the indices of ops in dependency order using Kahn's
// algorithm. Edges come from DependsOnLocalID and are restricted to
// operations present in this batch; references to earlier batches are
// resolved later through the audit log. Among operations that are equally
// ready, the original batch order is preserved so the result is stable.
// Returns ErrDependencyCycle if the batch depends on itself.
func topoOrder(ops []models.Operation) ([]int, error) {
	byLocal := make(map[string]int, len(ops))
	for i, op := range ops {
		byLocal[op.LocalID] = i
	}

	indegree := make([]int, len(ops))
	dependents := make([][]int, len(ops))
	for i, op := range ops {
		if op.DependsOnLocalID == "" {
			continue
		}
		j, ok := byLocal[op.DependsOnLocalID]
		if !ok || j == i {
			if j == i && ok {
				return nil, ErrDependencyCycle
			}
			continue // producer not in this batch
		}
		indegree[i]++
		dependents[j] = append(dependents[j], i)
	}

	ready := make([]int, 0, len(ops))
	for i := range ops {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(ops))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, i)
		for _, d := range dependents[i] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(ops) {
		return nil, ErrDependencyCycle
	}
	return order, nil
}
