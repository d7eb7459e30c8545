package models

import (
	"strings"
	"time"
)

// ColumnType identifies the declared type of a dataset column. The set is
// closed; anything the backend reports outside of it collapses to string.
type ColumnType string

const (
	ColumnInt32    ColumnType = "int32"
	ColumnInt64    ColumnType = "int64"
	ColumnDouble   ColumnType = "double"
	ColumnSingle   ColumnType = "single"
	ColumnDecimal  ColumnType = "decimal"
	ColumnBool     ColumnType = "boolean"
	ColumnDateTime ColumnType = "datetime"
	ColumnString   ColumnType = "string"
)

// ParseColumnType maps a runtime type label to a ColumnType.
// Unknown labels fall back to string.
func ParseColumnType(s string) ColumnType {
	switch ColumnType(strings.ToLower(strings.TrimSpace(s))) {
	case ColumnInt32, ColumnInt64, ColumnDouble, ColumnSingle,
		ColumnDecimal, ColumnBool, ColumnDateTime, ColumnString:
		return ColumnType(strings.ToLower(strings.TrimSpace(s)))
	default:
		return ColumnString
	}
}

// IsNumeric reports whether values of this type feed numeric aggregates.
func (t ColumnType) IsNumeric() bool {
	switch t {
	case ColumnInt32, ColumnInt64, ColumnDouble, ColumnSingle, ColumnDecimal:
		return true
	default:
		return false
	}
}

// Column describes one dataset column.
type Column struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"dataType"`
	DisplayName string     `json:"displayName,omitempty"`
}

// Dataset is an immutable, TTL-bounded tabular snapshot scoped to one
// tenant/user pair. Data is columnar: Data[i] holds the cells of
// Columns[i], and every column slice has the same length.
//
// Ownership, column order, and column names never change after
// construction. The dataset becomes unreachable strictly after
// CreatedAt + TTL.
type Dataset struct {
	ID           string        `json:"datasetId"`
	Source       string        `json:"source"`
	TenantID     string        `json:"tenantId"`
	UserID       string        `json:"userId"`
	CreatedAt    time.Time     `json:"createdAtUtc"`
	TTL          time.Duration `json:"ttl"`
	Columns      []Column      `json:"schema"`
	SchemaDigest string        `json:"schemaDigest,omitempty"`
	Data         [][]any       `json:"data"`
}

// RowCount returns the number of rows in the dataset.
func (d *Dataset) RowCount() int {
	if len(d.Data) == 0 {
		return 0
	}
	return len(d.Data[0])
}

// ColumnIndex resolves a column name case-insensitively.
// Returns -1 when the column does not exist.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Expired reports whether the dataset's TTL has elapsed at now.
func (d *Dataset) Expired(now time.Time) bool {
	return now.After(d.CreatedAt.Add(d.TTL))
}

// Row materializes row i across all columns. Out-of-range rows yield nil.
func (d *Dataset) Row(i int) []any {
	if i < 0 || i >= d.RowCount() {
		return nil
	}
	row := make([]any, len(d.Data))
	for c := range d.Data {
		row[c] = d.Data[c][i]
	}
	return row
}

// Rows materializes the full dataset row-major. Intended for previews and
// the analytics engine; callers must not mutate the returned cells.
func (d *Dataset) Rows() [][]any {
	n := d.RowCount()
	rows := make([][]any, n)
	for i := 0; i < n; i++ {
		rows[i] = d.Row(i)
	}
	return rows
}
