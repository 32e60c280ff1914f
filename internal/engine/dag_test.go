package engine

import (
	"errors"
	"reflect"
	"sort"
	"testing"
)

func sqlNode(refID string) QueryNode {
	return QueryNode{RefID: refID, Text: "SELECT 1", DataSourceRef: "primary"}
}

func mathNode(refID, expression string) QueryNode {
	return QueryNode{RefID: refID, Operation: OpMath, Expression: expression}
}

func stageRefs(plan Plan) [][]string {
	out := make([][]string, len(plan.Stages))
	for i, stage := range plan.Stages {
		for _, entry := range stage {
			out[i] = append(out[i], entry.Node.RefID)
		}
	}
	return out
}

func TestBuildPlanStagesByDependencyDepth(t *testing.T) {
	plan, err := BuildPlan([]QueryNode{
		mathNode("D", "C + A"),
		sqlNode("B"),
		sqlNode("A"),
		mathNode("C", "A / B"),
	})
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	want := [][]string{{"A", "B"}, {"C"}, {"D"}}
	if got := stageRefs(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	if plan.NodeCount() != 4 {
		t.Fatalf("NodeCount() = %d", plan.NodeCount())
	}
}

func TestBuildPlanIndependentNodesOrderedLexically(t *testing.T) {
	plan, err := BuildPlan([]QueryNode{sqlNode("C"), sqlNode("A"), sqlNode("B")})
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	want := [][]string{{"A", "B", "C"}}
	if got := stageRefs(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
}

func TestBuildPlanCyclicDependency(t *testing.T) {
	_, err := BuildPlan([]QueryNode{
		mathNode("A", "B + 1"),
		mathNode("B", "A + 1"),
	})
	var planErr *PlanError
	if !errors.As(err, &planErr) {
		t.Fatalf("error = %v, want PlanError", err)
	}
	if planErr.Code != PlanCyclicDependency {
		t.Fatalf("code = %q", planErr.Code)
	}
	refs := append([]string{}, planErr.RefIDs...)
	sort.Strings(refs)
	joined := ""
	for _, r := range refs {
		joined += r
	}
	if joined != "AAB" && joined != "ABB" {
		t.Fatalf("cycle refIds = %v, want both A and B involved", planErr.RefIDs)
	}
}

func TestBuildPlanSelfReference(t *testing.T) {
	_, err := BuildPlan([]QueryNode{mathNode("A", "A * 2")})
	var planErr *PlanError
	if !errors.As(err, &planErr) {
		t.Fatalf("error = %v", err)
	}
	if planErr.Code != PlanCyclicDependency {
		t.Fatalf("code = %q", planErr.Code)
	}
}

func TestBuildPlanUnknownReference(t *testing.T) {
	_, err := BuildPlan([]QueryNode{sqlNode("A"), mathNode("B", "A + Z")})
	var planErr *PlanError
	if !errors.As(err, &planErr) {
		t.Fatalf("error = %v", err)
	}
	if planErr.Code != PlanUnknownReference {
		t.Fatalf("code = %q", planErr.Code)
	}
}

func TestBuildPlanDuplicateRefID(t *testing.T) {
	_, err := BuildPlan([]QueryNode{sqlNode("A"), sqlNode("A")})
	var planErr *PlanError
	if !errors.As(err, &planErr) {
		t.Fatalf("error = %v", err)
	}
	if planErr.Code != PlanDuplicateRefID {
		t.Fatalf("code = %q", planErr.Code)
	}
}

func TestBuildPlanInvalidNodes(t *testing.T) {
	cases := []struct {
		name  string
		nodes []QueryNode
	}{
		{"empty request", nil},
		{"bad refId", []QueryNode{sqlNode("AB")}},
		{"lowercase refId", []QueryNode{sqlNode("a")}},
		{"sql without text", []QueryNode{{RefID: "A", DataSourceRef: "primary"}}},
		{"unknown dialect", []QueryNode{{RefID: "A", Dialect: "influxql", Text: "x"}}},
		{"unknown operation", []QueryNode{{RefID: "A", Operation: "window", Expression: "B"}}},
		{"derived without refs", []QueryNode{mathNode("A", "1 + 2")}},
	}
	for _, tc := range cases {
		_, err := BuildPlan(tc.nodes)
		var planErr *PlanError
		if !errors.As(err, &planErr) {
			t.Fatalf("%s: error = %v, want PlanError", tc.name, err)
		}
		if planErr.Code != PlanInvalidNode {
			t.Fatalf("%s: code = %q", tc.name, planErr.Code)
		}
	}
}

func TestBuildPlanMalformedExpression(t *testing.T) {
	_, err := BuildPlan([]QueryNode{sqlNode("A"), mathNode("B", "A +")})
	var exprErr *ExpressionError
	if !errors.As(err, &exprErr) {
		t.Fatalf("error = %v, want ExpressionError", err)
	}
}
