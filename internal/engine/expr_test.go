package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseExpressionArithmetic(t *testing.T) {
	node, err := ParseExpression("A / B * 100")
	if err != nil {
		t.Fatalf("ParseExpression() error = %v", err)
	}
	outer, ok := node.(binaryExpr)
	if !ok || outer.Op != '*' {
		t.Fatalf("root = %#v, want multiplication", node)
	}
	inner, ok := outer.Left.(binaryExpr)
	if !ok || inner.Op != '/' {
		t.Fatalf("left = %#v, want division", outer.Left)
	}
	if ref, ok := inner.Left.(identExpr); !ok || ref.Name != "A" {
		t.Fatalf("inner left = %#v", inner.Left)
	}
	if n, ok := outer.Right.(numberExpr); !ok || n.Value != 100 {
		t.Fatalf("right = %#v", outer.Right)
	}
}

func TestParseExpressionPrecedence(t *testing.T) {
	node, err := ParseExpression("A + B * C")
	if err != nil {
		t.Fatalf("ParseExpression() error = %v", err)
	}
	outer, ok := node.(binaryExpr)
	if !ok || outer.Op != '+' {
		t.Fatalf("root = %#v, want addition", node)
	}
	if _, ok := outer.Right.(binaryExpr); !ok {
		t.Fatalf("multiplication must bind tighter: %#v", outer.Right)
	}
}

func TestParseExpressionCall(t *testing.T) {
	node, err := ParseExpression("resample(A, 1h, avg)")
	if err != nil {
		t.Fatalf("ParseExpression() error = %v", err)
	}
	call, ok := node.(callExpr)
	if !ok || call.Func != "resample" {
		t.Fatalf("node = %#v", node)
	}
	if len(call.Args) != 3 {
		t.Fatalf("args = %d, want 3", len(call.Args))
	}
	if ref, ok := call.Args[0].(identExpr); !ok || ref.Name != "A" {
		t.Fatalf("arg 0 = %#v", call.Args[0])
	}
	dur, ok := call.Args[1].(durationExpr)
	if !ok || dur.Value != time.Hour {
		t.Fatalf("arg 1 = %#v", call.Args[1])
	}
	if agg, ok := call.Args[2].(identExpr); !ok || agg.Name != "avg" {
		t.Fatalf("arg 2 = %#v", call.Args[2])
	}
}

func TestParseExpressionUnaryMinus(t *testing.T) {
	node, err := ParseExpression("-A + 1")
	if err != nil {
		t.Fatalf("ParseExpression() error = %v", err)
	}
	if refs := ExtractRefs(node); !reflect.DeepEqual(refs, []string{"A"}) {
		t.Fatalf("refs = %v", refs)
	}
}

func TestExtractRefsSortedAndDeduplicated(t *testing.T) {
	node, err := ParseExpression("B + A / B + sum(C)")
	if err != nil {
		t.Fatalf("ParseExpression() error = %v", err)
	}
	refs := ExtractRefs(node)
	if !reflect.DeepEqual(refs, []string{"A", "B", "C"}) {
		t.Fatalf("refs = %v", refs)
	}
}

func TestExtractRefsIgnoresAggregationNames(t *testing.T) {
	node, err := ParseExpression("resample(A, 1h, avg)")
	if err != nil {
		t.Fatalf("ParseExpression() error = %v", err)
	}
	refs := ExtractRefs(node)
	if !reflect.DeepEqual(refs, []string{"A"}) {
		t.Fatalf("refs = %v", refs)
	}
}

func TestParseExpressionErrors(t *testing.T) {
	cases := []string{
		"",
		"A +",
		"sum(A",
		"A ^ B",
		"resample(A, 1w, avg)",
		"(A + B",
	}
	for _, expression := range cases {
		_, err := ParseExpression(expression)
		var exprErr *ExpressionError
		if !errors.As(err, &exprErr) {
			t.Fatalf("ParseExpression(%q) error = %v, want ExpressionError", expression, err)
		}
	}
}
