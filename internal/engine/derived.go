package engine

import (
	"fmt"
	"sort"
	"time"
)

// Null policy for derived nodes: values missing on one side of an alignment
// and non-numeric cells are carried as null, and null propagates through
// arithmetic. Rows are never silently dropped, so gaps stay visible to the
// caller. Division by zero also yields null.

// resampleMaxBuckets caps how many buckets a resample may materialize when
// filling gaps across the covered span.
const resampleMaxBuckets = 10000

var reduceFuncs = map[string]struct{}{
	"sum":   {},
	"avg":   {},
	"min":   {},
	"max":   {},
	"last":  {},
	"count": {},
}

// evaluateDerived computes a derived node from already-computed upstream
// results.
func evaluateDerived(node planNode, upstream map[string]Result) (Result, error) {
	switch node.Node.Operation {
	case OpMath:
		return evaluateMath(node, upstream)
	case OpReduce:
		return evaluateReduce(node, upstream)
	case OpResample:
		return evaluateResample(node, upstream)
	default:
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     fmt.Sprintf("unknown operation %q", node.Node.Operation),
		}
	}
}

// series is an upstream result viewed as key -> numeric value. A result with
// a single column is a scalar that broadcasts across any alignment.
type series struct {
	keyColumn string
	scalar    bool
	scalarVal *float64
	values    map[any]*float64
	keyOrder  []any
	rawKeys   map[any]any
}

func seriesFrom(result Result) series {
	if len(result.Columns) <= 1 {
		s := series{scalar: true}
		if len(result.Rows) > 0 && len(result.Rows[0]) > 0 {
			s.scalarVal = valueAsFloat(result.Rows[0][0])
		}
		return s
	}

	s := series{
		keyColumn: result.Columns[0],
		values:    make(map[any]*float64, len(result.Rows)),
		rawKeys:   make(map[any]any, len(result.Rows)),
	}
	for _, row := range result.Rows {
		if len(row) < 2 {
			continue
		}
		key := normalizeKey(row[0])
		if _, seen := s.values[key]; !seen {
			s.keyOrder = append(s.keyOrder, key)
			s.rawKeys[key] = row[0]
		}
		s.values[key] = valueAsFloat(row[1])
	}
	return s
}

func evaluateMath(node planNode, upstream map[string]Result) (Result, error) {
	refs := refsInOrder(node.AST)
	byRef := make(map[string]series, len(refs))
	for _, ref := range refs {
		result, ok := upstream[ref]
		if !ok {
			return Result{}, &UpstreamMissingError{RefID: ref}
		}
		byRef[ref] = seriesFrom(result)
	}

	// Alignment keys: union across referenced series, ordered by first
	// appearance starting from the left-most operand.
	var keys []any
	rawKeys := map[any]any{}
	keyColumn := ""
	seen := map[any]struct{}{}
	for _, ref := range refs {
		s := byRef[ref]
		if s.scalar {
			continue
		}
		if keyColumn == "" {
			keyColumn = s.keyColumn
		}
		for _, key := range s.keyOrder {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
			rawKeys[key] = s.rawKeys[key]
		}
	}

	// Pure-scalar expressions collapse to a single value row.
	if keyColumn == "" {
		value, err := evalArithmetic(node, byRef, nil)
		if err != nil {
			return Result{}, err
		}
		return Result{Columns: []string{"value"}, Rows: [][]any{{floatOrNil(value)}}}, nil
	}

	rows := make([][]any, 0, len(keys))
	for _, key := range keys {
		value, err := evalArithmetic(node, byRef, key)
		if err != nil {
			return Result{}, err
		}
		rows = append(rows, []any{rawKeys[key], floatOrNil(value)})
	}
	return Result{Columns: []string{keyColumn, "value"}, Rows: rows}, nil
}

func evalArithmetic(node planNode, byRef map[string]series, key any) (*float64, error) {
	var eval func(n exprNode) (*float64, error)
	eval = func(n exprNode) (*float64, error) {
		switch typed := n.(type) {
		case numberExpr:
			v := typed.Value
			return &v, nil
		case identExpr:
			s, ok := byRef[typed.Name]
			if !ok {
				return nil, &ExpressionError{
					Expression: node.Node.Expression,
					Reason:     fmt.Sprintf("identifier %q is not a referenced node", typed.Name),
				}
			}
			if s.scalar {
				return s.scalarVal, nil
			}
			return s.values[key], nil
		case binaryExpr:
			left, err := eval(typed.Left)
			if err != nil {
				return nil, err
			}
			right, err := eval(typed.Right)
			if err != nil {
				return nil, err
			}
			if left == nil || right == nil {
				return nil, nil
			}
			var out float64
			switch typed.Op {
			case '+':
				out = *left + *right
			case '-':
				out = *left - *right
			case '*':
				out = *left * *right
			case '/':
				if *right == 0 {
					return nil, nil
				}
				out = *left / *right
			}
			return &out, nil
		default:
			return nil, &ExpressionError{
				Expression: node.Node.Expression,
				Reason:     "math supports arithmetic over node references only",
			}
		}
	}
	return eval(node.AST)
}

func evaluateReduce(node planNode, upstream map[string]Result) (Result, error) {
	call, ok := node.AST.(callExpr)
	if !ok {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     "reduce expects an aggregation call like sum(A)",
		}
	}
	if _, known := reduceFuncs[call.Func]; !known {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     fmt.Sprintf("unknown aggregation %q", call.Func),
		}
	}
	if len(call.Args) != 1 {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     fmt.Sprintf("%s expects exactly one node reference", call.Func),
		}
	}
	ref, ok := call.Args[0].(identExpr)
	if !ok || !validRefID(ref.Name) {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     fmt.Sprintf("%s expects a node reference argument", call.Func),
		}
	}
	result, ok := upstream[ref.Name]
	if !ok {
		return Result{}, &UpstreamMissingError{RefID: ref.Name}
	}

	// A leading string column is a category key: reduce per category.
	if len(result.Columns) >= 2 && leadingColumnIsCategory(result) {
		groups := map[string][]*float64{}
		var order []string
		for _, row := range result.Rows {
			category, _ := row[0].(string)
			if _, seen := groups[category]; !seen {
				order = append(order, category)
			}
			groups[category] = append(groups[category], valueAsFloat(row[1]))
		}
		rows := make([][]any, 0, len(order))
		for _, category := range order {
			rows = append(rows, []any{category, floatOrNil(aggregate(call.Func, groups[category]))})
		}
		return Result{Columns: []string{result.Columns[0], call.Func}, Rows: rows}, nil
	}

	values := collectValues(result)
	return Result{
		Columns: []string{call.Func},
		Rows:    [][]any{{floatOrNil(aggregate(call.Func, values))}},
	}, nil
}

func evaluateResample(node planNode, upstream map[string]Result) (Result, error) {
	call, ok := node.AST.(callExpr)
	if !ok || call.Func != "resample" {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     "resample expects a call like resample(A, 1h, avg)",
		}
	}
	if len(call.Args) != 3 {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     "resample expects (node, bucket, aggregation)",
		}
	}
	ref, ok := call.Args[0].(identExpr)
	if !ok || !validRefID(ref.Name) {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     "resample expects a node reference as first argument",
		}
	}
	bucket, ok := call.Args[1].(durationExpr)
	if !ok || bucket.Value <= 0 {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     "resample expects a bucket duration like 1h as second argument",
		}
	}
	aggIdent, ok := call.Args[2].(identExpr)
	if !ok {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     "resample expects an aggregation name as third argument",
		}
	}
	aggName := aggIdent.Name
	if _, known := reduceFuncs[aggName]; !known {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     fmt.Sprintf("unknown aggregation %q", aggName),
		}
	}

	result, ok := upstream[ref.Name]
	if !ok {
		return Result{}, &UpstreamMissingError{RefID: ref.Name}
	}
	if len(result.Columns) < 2 {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     "resample requires a time column and a value column",
		}
	}

	buckets := map[int64][]*float64{}
	for _, row := range result.Rows {
		ts, tsOK := valueAsTime(row[0])
		if !tsOK {
			return Result{}, &ExpressionError{
				Expression: node.Node.Expression,
				Reason:     "series is not time-indexed",
			}
		}
		start := ts.UTC().Truncate(bucket.Value).Unix()
		buckets[start] = append(buckets[start], valueAsFloat(row[1]))
	}

	if len(buckets) == 0 {
		return Result{Columns: []string{result.Columns[0], result.Columns[1]}, Rows: [][]any{}}, nil
	}

	starts := make([]int64, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	// Empty buckets inside the covered span are emitted with a null value so
	// gaps in the source series stay visible. The span is bounded first: a
	// sparse series over a wide range with a small bucket would otherwise
	// materialize millions of null rows.
	step := int64(bucket.Value / time.Second)
	if total := (starts[len(starts)-1]-starts[0])/step + 1; total > resampleMaxBuckets {
		return Result{}, &ExpressionError{
			Expression: node.Node.Expression,
			Reason:     fmt.Sprintf("resample spans %d buckets, limit is %d; use a larger bucket size", total, resampleMaxBuckets),
		}
	}
	rows := make([][]any, 0, len(starts))
	for start := starts[0]; start <= starts[len(starts)-1]; start += step {
		values := buckets[start]
		rows = append(rows, []any{
			time.Unix(start, 0).UTC(),
			floatOrNil(aggregate(aggName, values)),
		})
	}
	return Result{Columns: []string{result.Columns[0], result.Columns[1]}, Rows: rows}, nil
}

func aggregate(name string, values []*float64) *float64 {
	var present []float64
	for _, value := range values {
		if value != nil {
			present = append(present, *value)
		}
	}
	if name == "count" {
		count := float64(len(present))
		return &count
	}
	if len(present) == 0 {
		return nil
	}
	switch name {
	case "sum":
		total := 0.0
		for _, v := range present {
			total += v
		}
		return &total
	case "avg":
		total := 0.0
		for _, v := range present {
			total += v
		}
		mean := total / float64(len(present))
		return &mean
	case "min":
		min := present[0]
		for _, v := range present[1:] {
			if v < min {
				min = v
			}
		}
		return &min
	case "max":
		max := present[0]
		for _, v := range present[1:] {
			if v > max {
				max = v
			}
		}
		return &max
	case "last":
		last := present[len(present)-1]
		return &last
	}
	return nil
}

func collectValues(result Result) []*float64 {
	column := 0
	if len(result.Columns) >= 2 {
		column = 1
	}
	values := make([]*float64, 0, len(result.Rows))
	for _, row := range result.Rows {
		if column >= len(row) {
			values = append(values, nil)
			continue
		}
		values = append(values, valueAsFloat(row[column]))
	}
	return values
}

func leadingColumnIsCategory(result Result) bool {
	for _, row := range result.Rows {
		if len(row) == 0 {
			continue
		}
		if _, ok := row[0].(string); !ok {
			return false
		}
	}
	return len(result.Rows) > 0
}

// refsInOrder lists refIds by first appearance in a left-to-right walk, so
// math alignment starts from the left-most operand.
func refsInOrder(node exprNode) []string {
	var refs []string
	seen := map[string]struct{}{}
	var walk func(n exprNode)
	walk = func(n exprNode) {
		switch typed := n.(type) {
		case identExpr:
			if validRefID(typed.Name) {
				if _, ok := seen[typed.Name]; !ok {
					seen[typed.Name] = struct{}{}
					refs = append(refs, typed.Name)
				}
			}
		case binaryExpr:
			walk(typed.Left)
			walk(typed.Right)
		case callExpr:
			for _, arg := range typed.Args {
				walk(arg)
			}
		}
	}
	walk(node)
	return refs
}

func valueAsFloat(raw any) *float64 {
	if raw == nil {
		return nil
	}
	if n, ok := asNumber(raw); ok {
		// Strings are not coerced here; asNumber accepts numeric strings,
		// which matches how drivers hand back NUMERIC columns.
		return &n
	}
	return nil
}

func valueAsTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		t, err := parseTimestamp(v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

func normalizeKey(raw any) any {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC().UnixNano()
	case []byte:
		return string(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

func floatOrNil(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}
