package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Page is one window of an arbitrary read-only statement, used by the ad-hoc
// explorer path.
type Page struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	TotalCount int64    `json:"totalCount"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	TotalPages int64    `json:"totalPages"`
}

var writeKeywordPattern = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|copy|vacuum|merge)\b`)

// checkReadOnlyStatement rejects multi-statement input and anything that is
// not a single SELECT/WITH query. Defense in depth; the real guarantee is a
// least-privilege database role on the target.
func checkReadOnlyStatement(sqlText string) error {
	trimmed := stripTrailingSemicolons(sqlText)
	if trimmed == "" {
		return fmt.Errorf("query is required")
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("multi-statement queries are not allowed")
	}
	lowered := strings.ToLower(trimmed)
	if !strings.HasPrefix(lowered, "select") && !strings.HasPrefix(lowered, "with") {
		return fmt.Errorf("only SELECT/WITH queries are allowed")
	}
	if match := writeKeywordPattern.FindString(lowered); match != "" {
		return fmt.Errorf("statement contains forbidden keyword %q", match)
	}
	return nil
}

// Paginate wraps a read-only statement to fetch a total row count and one
// page of rows. A page beyond the last yields an empty row set, not an error.
func Paginate(ctx context.Context, conn querier, sqlText string, page, pageSize int) (Page, error) {
	if err := checkReadOnlyStatement(sqlText); err != nil {
		return Page{}, &ValidationError{Issues: []ParameterIssue{{
			Name:    "query",
			Code:    IssueTypeMismatch,
			Message: err.Error(),
		}}}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return Page{}, &ValidationError{Issues: []ParameterIssue{{
			Name:    "pageSize",
			Code:    IssueOutOfRange,
			Message: "pageSize must be at least 1",
		}}}
	}

	inner := stripTrailingSemicolons(sqlText)

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS sub", inner)
	countRows, err := conn.QueryContext(ctx, countSQL)
	if err != nil {
		return Page{}, wrapQueryError(ctx, "explorer", err)
	}
	var totalCount int64
	if countRows.Next() {
		if err := countRows.Scan(&totalCount); err != nil {
			_ = countRows.Close()
			return Page{}, wrapQueryError(ctx, "explorer", err)
		}
	}
	if err := countRows.Err(); err != nil {
		_ = countRows.Close()
		return Page{}, wrapQueryError(ctx, "explorer", err)
	}
	_ = countRows.Close()

	pageSQL := fmt.Sprintf("SELECT * FROM (%s) AS sub LIMIT $1 OFFSET $2", inner)
	offset := (page - 1) * pageSize
	result, err := executeRaw(ctx, conn, pageSQL, pageSize, offset)
	if err != nil {
		return Page{}, err
	}

	totalPages := totalCount / int64(pageSize)
	if totalCount%int64(pageSize) != 0 {
		totalPages++
	}
	return Page{
		Columns:    result.Columns,
		Rows:       result.Rows,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

func executeRaw(ctx context.Context, conn querier, sqlText string, args ...any) (Result, error) {
	rows, err := conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return Result{}, wrapQueryError(ctx, "explorer", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, wrapQueryError(ctx, "explorer", err)
	}
	out := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return Result{}, wrapQueryError(ctx, "explorer", err)
		}
		out = append(out, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, wrapQueryError(ctx, "explorer", err)
	}
	return Result{Columns: columns, Rows: out}, nil
}
