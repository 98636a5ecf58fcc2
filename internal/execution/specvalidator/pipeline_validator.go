package specvalidator

import (
	"strings"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

// ValidatePipeline checks a canonical PipelineDefinition: unique names, job
// fields, dependency references and acyclicity. It fails on the first issue.
func ValidatePipeline(def domain.PipelineDefinition) error {
	if len(def.Stages) == 0 {
		return invalid("Invalid pipeline definition: 'stages' must contain at least one stage")
	}

	stageNames := make(map[string]struct{}, len(def.Stages))
	stageOf := make(map[string]int)
	var order []string
	for i, stage := range def.Stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return invalid("Stage at index %d is missing 'name' field", i)
		}
		if _, exists := stageNames[name]; exists {
			return invalid("Duplicate stage name %q", name)
		}
		stageNames[name] = struct{}{}
		if len(stage.Jobs) == 0 {
			return invalid("stage %q has no jobs", name)
		}

		for _, job := range stage.Jobs {
			jobName := strings.TrimSpace(job.Name)
			if jobName == "" {
				return invalid("job in stage %q is missing 'name' field", name)
			}
			if _, exists := stageOf[jobName]; exists {
				return invalid("Duplicate job name %q", jobName)
			}
			stageOf[jobName] = i
			order = append(order, jobName)
			if strings.TrimSpace(job.Image) == "" {
				return invalid("job %q: 'image' is required", jobName)
			}
		}
	}

	adj := make(map[string][]string, len(order))
	for _, stage := range def.Stages {
		for _, job := range stage.Jobs {
			name := strings.TrimSpace(job.Name)
			for _, dep := range job.Dependencies {
				dep = strings.TrimSpace(dep)
				if _, ok := stageOf[dep]; !ok {
					return invalid("Job %q depends on non-existent job %q", name, dep)
				}
				if dep == name {
					return invalid("Job %q cannot depend on itself", name)
				}
				adj[name] = append(adj[name], dep)
			}
		}
	}

	if cycle := findCycle(order, adj); len(cycle) > 0 {
		return invalid("Circular dependency detected: %s", strings.Join(cycle, " -> "))
	}

	// a dependency in a later stage could never finish before its dependent starts
	for _, name := range order {
		for _, dep := range adj[name] {
			if stageOf[dep] > stageOf[name] {
				return invalid("Job %q depends on job %q in later stage %q", name, dep, def.Stages[stageOf[dep]].Name)
			}
		}
	}
	return nil
}

// findCycle runs a three-color DFS over nodes in declaration order and returns
// the first cycle as a closed path (first node repeated at the end).
func findCycle(nodes []string, adj map[string][]string) []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))
	stack := make([]string, 0, len(nodes))

	var visit func(string) []string
	visit = func(node string) []string {
		state[node] = visiting
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch state[next] {
			case visiting:
				return closeCycle(stack, next)
			case unvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}

	for _, node := range nodes {
		if state[node] == unvisited {
			if cycle := visit(node); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func closeCycle(stack []string, start string) []string {
	for i, node := range stack {
		if node == start {
			cycle := append([]string{}, stack[i:]...)
			return append(cycle, start)
		}
	}
	return []string{start, start}
}
