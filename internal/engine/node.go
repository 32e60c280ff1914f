package engine

import "regexp"

// DialectSQL is the only supported dialect today; the field exists so new
// engines can be added without changing callers.
const DialectSQL = "sql"

type Operation string

const (
	OpMath     Operation = "math"
	OpReduce   Operation = "reduce"
	OpResample Operation = "resample"
)

// QueryNode is one node of an execution request. A node is either a SQL node
// (Text and DataSourceRef set) or a derived node (Operation and Expression
// set); RefID discriminates results in the response.
type QueryNode struct {
	RefID            string                `json:"refId"`
	Dialect          string                `json:"dialect,omitempty"`
	Text             string                `json:"text,omitempty"`
	DataSourceRef    string                `json:"dataSourceRef,omitempty"`
	Parameters       []ParameterDefinition `json:"parameters,omitempty"`
	DisableTimeRange bool                  `json:"disableTimeRange,omitempty"`

	Operation  Operation `json:"operation,omitempty"`
	Expression string    `json:"expression,omitempty"`
}

func (n QueryNode) IsDerived() bool {
	return n.Operation != ""
}

// Result is the tabular output of one node. Columns preserve SELECT-list
// order; rows are ordered as returned by the underlying engine.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"data"`
}

var refIDPattern = regexp.MustCompile(`^[A-Z]$`)

func validRefID(refID string) bool {
	return refIDPattern.MatchString(refID)
}
