package engine

import (
	"fmt"
	"sort"
)

// planNode pairs a request node with its parsed expression and dependencies.
type planNode struct {
	Node QueryNode
	AST  exprNode
	Deps []string
}

// Plan is a staged execution order: every node in a stage depends only on
// nodes from earlier stages, so the nodes of one stage may run concurrently.
type Plan struct {
	Stages [][]planNode
	byRef  map[string]planNode
}

func (p Plan) NodeCount() int {
	count := 0
	for _, stage := range p.Stages {
		count += len(stage)
	}
	return count
}

// BuildPlan validates the request shape (refId uniqueness and format, node
// fields, references, acyclicity) and computes the staged topological order.
// Nodes with no unresolved dependencies are ordered lexically by refId.
func BuildPlan(nodes []QueryNode) (Plan, error) {
	if len(nodes) == 0 {
		return Plan{}, &PlanError{Code: PlanInvalidNode, Reason: "request contains no query nodes"}
	}

	byRef := make(map[string]planNode, len(nodes))
	for _, node := range nodes {
		if !validRefID(node.RefID) {
			return Plan{}, &PlanError{
				Code:   PlanInvalidNode,
				RefIDs: []string{node.RefID},
				Reason: "refId must be a single uppercase letter A-Z",
			}
		}
		if _, exists := byRef[node.RefID]; exists {
			return Plan{}, &PlanError{
				Code:   PlanDuplicateRefID,
				RefIDs: []string{node.RefID},
				Reason: "refId is used by more than one node",
			}
		}

		entry := planNode{Node: node}
		if node.IsDerived() {
			switch node.Operation {
			case OpMath, OpReduce, OpResample:
			default:
				return Plan{}, &PlanError{
					Code:   PlanInvalidNode,
					RefIDs: []string{node.RefID},
					Reason: fmt.Sprintf("unknown operation %q", node.Operation),
				}
			}
			ast, err := ParseExpression(node.Expression)
			if err != nil {
				return Plan{}, err
			}
			entry.AST = ast
			entry.Deps = ExtractRefs(ast)
			if len(entry.Deps) == 0 {
				return Plan{}, &PlanError{
					Code:   PlanInvalidNode,
					RefIDs: []string{node.RefID},
					Reason: "derived node references no other nodes",
				}
			}
		} else {
			if node.Text == "" {
				return Plan{}, &PlanError{
					Code:   PlanInvalidNode,
					RefIDs: []string{node.RefID},
					Reason: "sql node requires text",
				}
			}
			if node.Dialect != "" && node.Dialect != DialectSQL {
				return Plan{}, &PlanError{
					Code:   PlanInvalidNode,
					RefIDs: []string{node.RefID},
					Reason: fmt.Sprintf("unsupported dialect %q", node.Dialect),
				}
			}
		}
		byRef[node.RefID] = entry
	}

	for refID, entry := range byRef {
		for _, dep := range entry.Deps {
			if _, ok := byRef[dep]; !ok {
				return Plan{}, &PlanError{
					Code:   PlanUnknownReference,
					RefIDs: []string{refID, dep},
					Reason: fmt.Sprintf("node %s references unknown refId %s", refID, dep),
				}
			}
		}
	}

	if cycle := findCycle(byRef); len(cycle) > 0 {
		return Plan{}, &PlanError{
			Code:   PlanCyclicDependency,
			RefIDs: cycle,
			Reason: "dependency graph contains a cycle",
		}
	}

	return Plan{Stages: layerStages(byRef), byRef: byRef}, nil
}

type visitColor int

const (
	colorWhite visitColor = iota
	colorGray
	colorBlack
)

// findCycle runs a depth-first traversal with color marking; a back-edge to a
// gray node yields the refIds currently on the traversal stack.
func findCycle(byRef map[string]planNode) []string {
	colors := make(map[string]visitColor, len(byRef))
	var stack []string

	refs := sortedRefs(byRef)
	var visit func(refID string) []string
	visit = func(refID string) []string {
		colors[refID] = colorGray
		stack = append(stack, refID)
		for _, dep := range byRef[refID].Deps {
			switch colors[dep] {
			case colorGray:
				start := 0
				for i, onStack := range stack {
					if onStack == dep {
						start = i
						break
					}
				}
				return append(append([]string{}, stack[start:]...), dep)
			case colorWhite:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[refID] = colorBlack
		return nil
	}

	for _, refID := range refs {
		if colors[refID] == colorWhite {
			if cycle := visit(refID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// layerStages groups nodes into stages where a node lands in the first stage
// after all of its dependencies. Stage membership is sorted by refId.
func layerStages(byRef map[string]planNode) [][]planNode {
	depth := make(map[string]int, len(byRef))
	var depthOf func(refID string) int
	depthOf = func(refID string) int {
		if d, ok := depth[refID]; ok {
			return d
		}
		max := 0
		for _, dep := range byRef[refID].Deps {
			if d := depthOf(dep) + 1; d > max {
				max = d
			}
		}
		depth[refID] = max
		return max
	}

	maxDepth := 0
	for _, refID := range sortedRefs(byRef) {
		if d := depthOf(refID); d > maxDepth {
			maxDepth = d
		}
	}

	stages := make([][]planNode, maxDepth+1)
	for _, refID := range sortedRefs(byRef) {
		d := depth[refID]
		stages[d] = append(stages[d], byRef[refID])
	}
	return stages
}

func sortedRefs(byRef map[string]planNode) []string {
	refs := make([]string, 0, len(byRef))
	for refID := range byRef {
		refs = append(refs, refID)
	}
	sort.Strings(refs)
	return refs
}
