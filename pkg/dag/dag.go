// Package dag is the DAG scheduler (component H): it validates depends-on
// edges, computes a deterministic topological order, and executes ready
// waves concurrently up to a configured cap.
package dag

import (
	"context"
	"sort"

	"github.com/sremani/chengis/internal/errs"
	"github.com/sremani/chengis/pkg/model"
)

// StageDef is the minimal shape the scheduler needs from a stage
// definition: its name, declaration order, and declared dependencies.
type StageDef struct {
	Name      string
	DependsOn []string
}

// HasDAG reports whether any stage declares depends-on; when false, callers
// should fall back to linear sequential execution instead of building a
// graph.
func HasDAG(stages []StageDef) bool {
	for _, s := range stages {
		if len(s.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// Graph is name -> set(deps), plus the original declaration order used to
// break topological-sort ties deterministically.
type Graph struct {
	deps  map[string]map[string]bool
	order []string
}

// Build constructs a Graph from stages, rejecting self-dependency, unknown
// dependency targets, and any cycle.
func Build(stages []StageDef) (*Graph, error) {
	g := &Graph{deps: make(map[string]map[string]bool)}

	known := make(map[string]bool, len(stages))
	for _, s := range stages {
		if known[s.Name] {
			return nil, errs.Validationf("dag: duplicate stage name %q", s.Name)
		}
		known[s.Name] = true
		g.order = append(g.order, s.Name)
	}

	for _, s := range stages {
		set := make(map[string]bool, len(s.DependsOn))
		for _, d := range s.DependsOn {
			if d == s.Name {
				return nil, errs.Validationf("dag: stage %q depends on itself", s.Name)
			}
			if !known[d] {
				return nil, errs.Validationf("dag: stage %q depends on unknown stage %q", s.Name, d)
			}
			set[d] = true
		}
		g.deps[s.Name] = set
	}

	if err := detectCycle(g); err != nil {
		return nil, err
	}

	return g, nil
}

// color values for DFS cycle detection.
const (
	white = 0
	gray  = 1
	black = 2
)

func detectCycle(g *Graph) error {
	colors := make(map[string]int, len(g.order))

	var visit func(name string) error
	visit = func(name string) error {
		colors[name] = gray
		deps := sortedKeys(g.deps[name])
		for _, d := range deps {
			switch colors[d] {
			case gray:
				return errs.Validationf("dag: cycle detected involving stage %q", d)
			case white:
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		colors[name] = black
		return nil
	}

	for _, name := range g.order {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TopologicalSort returns a linearization of g's stages such that every
// stage appears after all its dependencies, breaking ties by the stages'
// original declaration order.
func (g *Graph) TopologicalSort() []string {
	indexOf := make(map[string]int, len(g.order))
	for i, name := range g.order {
		indexOf[name] = i
	}

	inDegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string)
	for name, deps := range g.deps {
		inDegree[name] = len(deps)
		for d := range deps {
			dependents[d] = append(dependents[d], name)
		}
	}

	var ready []string
	for _, name := range g.order {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return indexOf[ready[i]] < indexOf[ready[j]] })

	var result []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		result = append(result, next)

		newlyReady := []string{}
		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				newlyReady = append(newlyReady, dep)
			}
		}
		sort.Slice(newlyReady, func(i, j int) bool { return indexOf[newlyReady[i]] < indexOf[newlyReady[j]] })
		ready = append(ready, newlyReady...)
		sort.Slice(ready, func(i, j int) bool { return indexOf[ready[i]] < indexOf[ready[j]] })
	}

	return result
}

// Deps returns the direct dependencies declared for stage name.
func (g *Graph) Deps(name string) []string {
	return sortedKeys(g.deps[name])
}

// StageOutcome is what RunWaves needs back from a single stage execution.
type StageOutcome struct {
	Name   string
	Status model.StageStatus
}

// RunStage executes one stage and reports its outcome.
type RunStage func(ctx context.Context, name string) StageOutcome

// RunWaves executes g wave by wave: at each wave, every stage whose
// dependencies are all complete and not failed is launched concurrently,
// capped at maxConcurrent. A stage whose dependency failed (or was
// aborted) is itself marked aborted without running. Cancellation (ctx
// done) stops launching new stages and lets in-flight ones observe ctx.
func RunWaves(ctx context.Context, g *Graph, maxConcurrent int, run RunStage) []StageOutcome {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	completed := make(map[string]model.StageStatus)
	var results []StageOutcome

	remaining := make(map[string]bool, len(g.order))
	for _, name := range g.order {
		remaining[name] = true
	}

	for len(remaining) > 0 {
		ready := computeReady(g, remaining, completed)
		if len(ready) == 0 {
			// Every remaining stage has a failed/aborted dependency.
			for _, name := range sortedPending(remaining, g) {
				outcome := StageOutcome{Name: name, Status: model.StageAborted}
				results = append(results, outcome)
				completed[name] = model.StageAborted
				delete(remaining, name)
			}
			continue
		}

		if ctx.Err() != nil {
			for _, name := range ready {
				outcome := StageOutcome{Name: name, Status: model.StageAborted}
				results = append(results, outcome)
				completed[name] = model.StageAborted
				delete(remaining, name)
			}
			continue
		}

		waveResults := runWaveConcurrent(ctx, ready, maxConcurrent, run)
		for _, outcome := range waveResults {
			results = append(results, outcome)
			completed[outcome.Name] = outcome.Status
			delete(remaining, outcome.Name)
		}
	}

	return results
}

func computeReady(g *Graph, remaining map[string]bool, completed map[string]model.StageStatus) []string {
	indexOf := make(map[string]int, len(g.order))
	for i, name := range g.order {
		indexOf[name] = i
	}

	var ready []string
	for name := range remaining {
		deps := g.Deps(name)
		allDepsOK := true
		for _, d := range deps {
			status, done := completed[d]
			if !done {
				allDepsOK = false
				break
			}
			if status == model.StageFailure || status == model.StageAborted {
				allDepsOK = false
				break
			}
		}
		if allDepsOK {
			ready = append(ready, name)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return indexOf[ready[i]] < indexOf[ready[j]] })
	return ready
}

func sortedPending(remaining map[string]bool, g *Graph) []string {
	indexOf := make(map[string]int, len(g.order))
	for i, name := range g.order {
		indexOf[name] = i
	}
	var out []string
	for name := range remaining {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return indexOf[out[i]] < indexOf[out[j]] })
	return out
}

func runWaveConcurrent(ctx context.Context, ready []string, maxConcurrent int, run RunStage) []StageOutcome {
	type indexedOutcome struct {
		idx     int
		outcome StageOutcome
	}

	sem := make(chan struct{}, maxConcurrent)
	results := make(chan indexedOutcome, len(ready))

	for i, name := range ready {
		i, name := i, name
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			results <- indexedOutcome{idx: i, outcome: run(ctx, name)}
		}()
	}

	out := make([]StageOutcome, len(ready))
	for range ready {
		r := <-results
		out[r.idx] = r.outcome
	}
	return out
}
