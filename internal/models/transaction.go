package models

import "time"

// Table is a raw or normalized tabular input: a header row plus string cells.
// Rows may be shorter than Columns; absent cells read as empty.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns the value at row i of the named column, or "" when the column
// or cell is absent.
func (t *Table) Cell(i int, name string) string {
	idx := t.Index(name)
	if idx < 0 || idx >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][idx]
}

// Concat appends tables under the union of their columns, in first-seen
// order. A name repeated within one table keeps one union column per
// occurrence. Cells for columns a table lacks are left empty.
func Concat(tables ...*Table) *Table {
	out := &Table{}
	pos := make(map[string][]int)
	targets := make([][]int, len(tables))
	for i, t := range tables {
		seen := make(map[string]int, len(t.Columns))
		targets[i] = make([]int, len(t.Columns))
		for j, c := range t.Columns {
			k := seen[c]
			seen[c]++
			if k == len(pos[c]) {
				pos[c] = append(pos[c], len(out.Columns))
				out.Columns = append(out.Columns, c)
			}
			targets[i][j] = pos[c][k]
		}
	}

	for i, t := range tables {
		for _, row := range t.Rows {
			merged := make([]string, len(out.Columns))
			for j, dst := range targets[i] {
				if j < len(row) {
					merged[dst] = row[j]
				}
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// Nullable holds a coerced value that may be missing.
type Nullable[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Valid: true}
}

func None[T any]() Nullable[T] {
	return Nullable[T]{}
}

// Transaction is one normalized row after type coercion. Derived fields are
// only populated on clean records.
type Transaction struct {
	InvoiceNo   string
	StockCode   string
	Description string
	Quantity    Nullable[float64]
	InvoiceDate Nullable[time.Time]
	UnitPrice   Nullable[float64]
	CustomerID  Nullable[float64]
	Country     string
	// Extra carries non-required input columns, aligned with the column list
	// the record set was built from.
	Extra []string

	Revenue      float64
	IsReturn     bool
	InvoiceDay   string
	InvoiceMonth string
	InvoiceWeek  string
}

type DailyRevenue struct {
	Date         time.Time `json:"date"`
	DailyRevenue float64   `json:"daily_revenue"`
}

type ProductRevenue struct {
	StockCode    string  `json:"stockcode"`
	Description  string  `json:"description"`
	TotalRevenue float64 `json:"total_revenue"`
}

type Anomaly struct {
	Date         time.Time `json:"date"`
	DailyRevenue float64   `json:"daily_revenue"`
	Threshold    float64   `json:"threshold"`
}

// Metrics are the scalar aggregates over a clean record set. DateStart and
// DateEnd are empty when no record exists.
type Metrics struct {
	TotalRevenue       float64 `json:"total_revenue"`
	TotalOrders        int     `json:"total_orders"`
	TotalCustomers     int     `json:"total_customers"`
	AvgOrderValue      float64 `json:"avg_order_value"`
	ReturnsRevenue     float64 `json:"returns_revenue"`
	ReturnsOrdersCount int     `json:"returns_orders_count"`
	DateStart          string  `json:"date_start"`
	DateEnd            string  `json:"date_end"`
}

// Dataset is a clean record set. Columns lists the input columns in their
// original order; Records[i].Extra holds the values of ExtraColumns.
type Dataset struct {
	Columns      []string
	ExtraColumns []string
	Records      []Transaction
}
