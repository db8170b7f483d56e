// Package clean turns normalized transaction tables into clean records.
//
// Unparsable values are not errors: they become missing and the row is
// dropped by a later filter when the field is mandatory. Every dropped row is
// counted in Stats under the reason that removed it.
package clean

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"retail-insights/internal/config"
	"retail-insights/internal/errors"
	"retail-insights/internal/exporter"
	"retail-insights/internal/models"
)

const (
	colInvoiceNo   = "invoiceno"
	colStockCode   = "stockcode"
	colDescription = "description"
	colQuantity    = "quantity"
	colInvoiceDate = "invoicedate"
	colUnitPrice   = "unitprice"
	colCustomerID  = "customerid"
	colCountry     = "country"
)

// DerivedColumns are appended to the clean snapshot. Input columns with these
// names are discarded and recomputed.
var DerivedColumns = []string{"revenue", "is_return", "invoice_date", "invoice_month", "invoice_week"}

var knownColumns = []string{
	colInvoiceNo, colStockCode, colDescription, colQuantity,
	colInvoiceDate, colUnitPrice, colCustomerID, colCountry,
}

const (
	timestampLayout = "2006-01-02 15:04:05.999999999"
	dayLayout       = "2006-01-02"
	monthLayout     = "2006-01"
)

// Stats counts rows removed by each filter, in filter order.
type Stats struct {
	Input              int
	MissingRequired    int
	ZeroValue          int
	MissingCustomerID  int
	MissingDescription int
	Duplicates         int
	Output             int
}

type Cleaner struct {
	cfg    config.CleanConfig
	logger *slog.Logger
}

func NewCleaner(cfg config.CleanConfig, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		cfg:    cfg,
		logger: logger.With("component", "clean"),
	}
}

// Clean applies coercion, the row filters, de-duplication and field
// derivation. An empty result is valid.
func (c *Cleaner) Clean(table *models.Table) (*models.Dataset, Stats) {
	ds := &models.Dataset{}
	// extras are tracked by position; two inputs may normalize to one name
	var extraIdx []int
	for j, col := range table.Columns {
		if slices.Contains(DerivedColumns, col) {
			continue
		}
		ds.Columns = append(ds.Columns, col)
		if !slices.Contains(knownColumns, col) {
			ds.ExtraColumns = append(ds.ExtraColumns, col)
			extraIdx = append(extraIdx, j)
		}
	}

	stats := Stats{Input: len(table.Rows)}
	seen := make(map[string]struct{}, len(table.Rows))

	for i := range table.Rows {
		tx := models.Transaction{
			InvoiceNo:   strings.TrimSpace(table.Cell(i, colInvoiceNo)),
			StockCode:   strings.TrimSpace(table.Cell(i, colStockCode)),
			Description: strings.TrimSpace(table.Cell(i, colDescription)),
			Country:     strings.TrimSpace(table.Cell(i, colCountry)),
			Quantity:    ParseNumber(table.Cell(i, colQuantity)),
			UnitPrice:   ParseNumber(table.Cell(i, colUnitPrice)),
			CustomerID:  ParseNumber(table.Cell(i, colCustomerID)),
			InvoiceDate: ParseTimestamp(table.Cell(i, colInvoiceDate), c.cfg.DateLayouts),
		}
		if len(extraIdx) > 0 {
			tx.Extra = make([]string, len(extraIdx))
			row := table.Rows[i]
			for j, idx := range extraIdx {
				if idx < len(row) {
					tx.Extra[j] = row[idx]
				}
			}
		}

		if !tx.InvoiceDate.Valid || !tx.Quantity.Valid || !tx.UnitPrice.Valid {
			stats.MissingRequired++
			continue
		}
		if tx.UnitPrice.Value == 0 || tx.Quantity.Value == 0 {
			stats.ZeroValue++
			continue
		}
		if c.cfg.DropMissingCustomerID && !tx.CustomerID.Valid {
			stats.MissingCustomerID++
			continue
		}
		if c.cfg.DropMissingDescription && tx.Description == "" {
			stats.MissingDescription++
			continue
		}

		key := rowKey(tx)
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		derive(&tx)
		ds.Records = append(ds.Records, tx)
	}

	stats.Output = len(ds.Records)

	c.logger.Info("cleaning complete",
		"input_rows", stats.Input,
		"dropped_missing_required", stats.MissingRequired,
		"dropped_zero_value", stats.ZeroValue,
		"dropped_missing_customerid", stats.MissingCustomerID,
		"dropped_missing_description", stats.MissingDescription,
		"dropped_duplicates", stats.Duplicates,
		"output_rows", stats.Output)

	return ds, stats
}

// Save writes the full clean dataset to dir and returns the file path.
func (c *Cleaner) Save(ds *models.Dataset, dir string) (string, error) {
	path := filepath.Join(dir, c.cfg.ProcessedFilename)
	snap := Snapshot(ds)
	err := exporter.WriteCSV(path, exporter.WriteOptions{
		Headers:   snap.Columns,
		Records:   snap.Rows,
		BOMPrefix: c.cfg.WriteBOM,
	})
	if err != nil {
		return "", errors.IOWrap(err, fmt.Sprintf("write processed data %s", path))
	}
	c.logger.Info("processed data saved", "path", path, "rows", len(snap.Rows))
	return path, nil
}

// Snapshot renders a dataset back into a table: the input columns followed by
// the derived columns. Cleaning a snapshot again yields the same dataset.
func Snapshot(ds *models.Dataset) *models.Table {
	cols := slices.Concat(ds.Columns, DerivedColumns)
	out := &models.Table{Columns: cols, Rows: make([][]string, 0, len(ds.Records))}

	for _, tx := range ds.Records {
		row := make([]string, 0, len(cols))
		extra := 0
		for _, col := range ds.Columns {
			switch col {
			case colInvoiceNo:
				row = append(row, tx.InvoiceNo)
			case colStockCode:
				row = append(row, tx.StockCode)
			case colDescription:
				row = append(row, tx.Description)
			case colQuantity:
				row = append(row, formatNullable(tx.Quantity))
			case colInvoiceDate:
				row = append(row, FormatTimestamp(tx.InvoiceDate.Value))
			case colUnitPrice:
				row = append(row, formatNullable(tx.UnitPrice))
			case colCustomerID:
				row = append(row, formatNullable(tx.CustomerID))
			case colCountry:
				row = append(row, tx.Country)
			default:
				row = append(row, tx.Extra[extra])
				extra++
			}
		}
		row = append(row,
			FormatFloat(tx.Revenue),
			strconv.FormatBool(tx.IsReturn),
			tx.InvoiceDay,
			tx.InvoiceMonth,
			tx.InvoiceWeek,
		)
		out.Rows = append(out.Rows, row)
	}
	return out
}

// ParseNumber coerces s to a float. Empty, malformed, NaN and infinite values
// are missing.
func ParseNumber(s string) models.Nullable[float64] {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.None[float64]()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return models.None[float64]()
	}
	return models.Some(v)
}

// ParseTimestamp tries each layout in order and returns the first match, or
// missing. Values without an offset are UTC; values with one keep it, so date
// buckets follow the wall clock of the source.
func ParseTimestamp(s string, layouts []string) models.Nullable[time.Time] {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.None[time.Time]()
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Some(t)
		}
	}
	return models.None[time.Time]()
}

// FormatTimestamp writes t with full sub-second precision. The offset is
// appended only for non-UTC values.
func FormatTimestamp(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format(timestampLayout)
	}
	return t.Format(timestampLayout + "Z07:00")
}

func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WeekLabel returns the Monday to Sunday span containing t as
// "YYYY-MM-DD/YYYY-MM-DD".
func WeekLabel(t time.Time) string {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	end := start.AddDate(0, 0, 6)
	return start.Format(dayLayout) + "/" + end.Format(dayLayout)
}

func derive(tx *models.Transaction) {
	tx.Revenue = tx.Quantity.Value * tx.UnitPrice.Value
	tx.IsReturn = tx.Quantity.Value < 0

	ts := tx.InvoiceDate.Value
	tx.InvoiceDay = ts.Format(dayLayout)
	tx.InvoiceMonth = ts.Format(monthLayout)
	tx.InvoiceWeek = WeekLabel(ts)
}

func formatNullable(n models.Nullable[float64]) string {
	if !n.Valid {
		return ""
	}
	return FormatFloat(n.Value)
}

const missingMarker = "\x00"

func rowKey(tx models.Transaction) string {
	date := missingMarker
	if tx.InvoiceDate.Valid {
		date = strconv.FormatInt(tx.InvoiceDate.Value.UnixNano(), 10)
	}
	customer := missingMarker
	if tx.CustomerID.Valid {
		customer = FormatFloat(tx.CustomerID.Value)
	}

	parts := []string{
		tx.InvoiceNo,
		tx.StockCode,
		tx.Description,
		FormatFloat(tx.Quantity.Value),
		date,
		FormatFloat(tx.UnitPrice.Value),
		customer,
		tx.Country,
	}
	parts = append(parts, tx.Extra...)
	return strings.Join(parts, "\x1f")
}
