package pipeline

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"parley/internal/services"
)

// CycleError reports a dependency cycle. Cycle starts and ends with the same
// step name.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "pipeline: dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// Unwrap classifies cycles as configuration errors.
func (e *CycleError) Unwrap() error { return services.ErrConfiguration }

// Graph is the dependency graph of a definition. It is immutable after
// BuildGraph returns.
type Graph struct {
	steps      []Step
	index      map[string]int
	deps       [][]int
	dependents [][]int
	order      []int
}

// BuildGraph derives edges from declared paths: step B depends on step A when
// one of B's inputs equals one of A's outputs, lies beneath an output
// directory of A, or is a directory containing an output of A.
func BuildGraph(steps []Step) (*Graph, error) {
	g := &Graph{
		steps:      steps,
		index:      make(map[string]int, len(steps)),
		deps:       make([][]int, len(steps)),
		dependents: make([][]int, len(steps)),
	}
	producers := make(map[string]int)
	for i, step := range steps {
		if _, dup := g.index[step.Name]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "graph",
				fmt.Sprintf("duplicate step name %q", step.Name), nil)
		}
		g.index[step.Name] = i
		for _, out := range step.Outputs {
			if prev, dup := producers[out]; dup {
				return nil, services.Wrap(services.ErrConfiguration, "pipeline", "graph",
					fmt.Sprintf("output %s declared by both %s and %s", out, steps[prev].Name, step.Name), nil)
			}
			producers[out] = i
		}
	}

	for i, step := range steps {
		seen := map[int]bool{}
		for _, in := range step.Inputs {
			for out, producer := range producers {
				if seen[producer] || !covers(out, in) {
					continue
				}
				seen[producer] = true
				g.deps[i] = append(g.deps[i], producer)
				g.dependents[producer] = append(g.dependents[producer], i)
			}
		}
		slices.Sort(g.deps[i])
	}
	for i := range g.dependents {
		slices.Sort(g.dependents[i])
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

func covers(output, input string) bool {
	sep := string(os.PathSeparator)
	return input == output ||
		strings.HasPrefix(input, output+sep) ||
		strings.HasPrefix(output, input+sep)
}

// topoSort is Kahn's algorithm choosing the lowest declaration index among
// ready steps, which makes the order deterministic.
func (g *Graph) topoSort() ([]int, error) {
	indegree := make([]int, len(g.steps))
	for i := range g.steps {
		indegree[i] = len(g.deps[i])
	}
	done := make([]bool, len(g.steps))
	order := make([]int, 0, len(g.steps))
	for len(order) < len(g.steps) {
		next := -1
		for i := range g.steps {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &CycleError{Cycle: g.findCycle(done)}
		}
		done[next] = true
		order = append(order, next)
		for _, d := range g.dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}

// findCycle walks dependency edges among unsorted steps until a step repeats.
// Every unsorted step has at least one unsorted dependency, so the walk
// cannot dead-end.
func (g *Graph) findCycle(done []bool) []string {
	start := slices.Index(done, false)
	pos := map[int]int{}
	var path []int
	for cur := start; ; {
		if at, ok := pos[cur]; ok {
			cycle := make([]string, 0, len(path)-at+1)
			for _, idx := range path[at:] {
				cycle = append(cycle, g.steps[idx].Name)
			}
			return append(cycle, g.steps[cur].Name)
		}
		pos[cur] = len(path)
		path = append(path, cur)
		for _, d := range g.deps[cur] {
			if !done[d] {
				cur = d
				break
			}
		}
	}
}

// Order returns step names in deterministic topological order.
func (g *Graph) Order() []string {
	return g.names(g.order)
}

// Step returns the named step.
func (g *Graph) Step(name string) (Step, bool) {
	i, ok := g.index[name]
	if !ok {
		return Step{}, false
	}
	return g.steps[i], true
}

// Dependencies returns the direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	return g.names(g.deps[i])
}

// Dependents returns every step that transitively depends on name, in
// topological order.
func (g *Graph) Dependents(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	reached := g.walk([]int{i}, g.dependents)
	delete(reached, i)
	return g.ordered(reached)
}

// Closure returns targets plus everything they transitively depend on, in
// topological order. No targets selects every step.
func (g *Graph) Closure(targets []string) ([]string, error) {
	if len(targets) == 0 {
		return g.Order(), nil
	}
	start := make([]int, 0, len(targets))
	for _, name := range targets {
		i, ok := g.index[name]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "graph",
				fmt.Sprintf("unknown step %q", name), nil)
		}
		start = append(start, i)
	}
	return g.ordered(g.walk(start, g.deps)), nil
}

func (g *Graph) walk(start []int, edges [][]int) map[int]bool {
	reached := map[int]bool{}
	stack := append([]int(nil), start...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[cur] {
			continue
		}
		reached[cur] = true
		stack = append(stack, edges[cur]...)
	}
	return reached
}

func (g *Graph) ordered(set map[int]bool) []string {
	out := make([]string, 0, len(set))
	for _, i := range g.order {
		if set[i] {
			out = append(out, g.steps[i].Name)
		}
	}
	return out
}

func (g *Graph) names(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.steps[i].Name)
	}
	return out
}
