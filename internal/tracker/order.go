package tracker

import (
	"fmt"
	"strings"

	"github.com/steveyegge/mpsync/internal/types"
)

// visit states for OrderTasks.
const (
	unvisited = iota
	inProgress
	done
)

// OrderTasks returns the batch with every parent ahead of its children.
// Parents outside the batch are ignored here; the engine resolves them
// through the identity store. Tasks are seeded in input order, so the
// result is deterministic. When the same ID appears twice the later record
// wins but keeps the position of the first.
//
// The walk uses an explicit stack, so deep hierarchies cannot exhaust the
// goroutine stack. A cycle in the parent links yields ErrParentCycle.
func OrderTasks(tasks []*types.Task) ([]*types.Task, error) {
	byID := make(map[string]*types.Task, len(tasks))
	seeds := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, seen := byID[t.ID]; !seen {
			seeds = append(seeds, t.ID)
		}
		byID[t.ID] = t
	}

	state := make(map[string]int, len(byID))
	ordered := make([]*types.Task, 0, len(byID))

	for _, seed := range seeds {
		if state[seed] != unvisited {
			continue
		}
		// stack[i+1] is always the parent of stack[i].
		stack := []string{seed}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			if state[id] == unvisited {
				state[id] = inProgress
				if parentID := byID[id].ParentID; parentID != "" {
					if _, inBatch := byID[parentID]; inBatch {
						switch state[parentID] {
						case unvisited:
							stack = append(stack, parentID)
							continue
						case inProgress:
							return nil, cycleError(stack, parentID)
						}
					}
				}
			}
			state[id] = done
			ordered = append(ordered, byID[id])
			stack = stack[:len(stack)-1]
		}
	}
	return ordered, nil
}

func cycleError(stack []string, repeated string) error {
	start := 0
	for i, id := range stack {
		if id == repeated {
			start = i
			break
		}
	}
	path := append(append([]string{}, stack[start:]...), repeated)
	return fmt.Errorf("%w: %s", ErrParentCycle, strings.Join(path, " -> "))
}
