// Package ingest reads a single delimited or spreadsheet file into a table
// with normalized column names and checks the required transaction fields.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/xuri/excelize/v2"

	"retail-insights/internal/config"
	"retail-insights/internal/errors"
	"retail-insights/internal/models"
)

type format int

const (
	formatDelimited format = iota
	formatSpreadsheet
)

var extensions = map[string]format{
	".csv":  formatDelimited,
	".xlsx": formatSpreadsheet,
	".xlsm": formatSpreadsheet,
	".xls":  formatSpreadsheet,
}

// Supported reports whether path has an extension the loader can read.
func Supported(path string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

type Loader struct {
	cfg    config.IngestConfig
	logger *slog.Logger
}

func NewLoader(cfg config.IngestConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cfg:    cfg,
		logger: logger.With("component", "ingest"),
	}
}

// Load reads path, normalizes its header and validates the required columns.
// It has no side effects beyond reading the file.
func (l *Loader) Load(ctx context.Context, path string) (*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalWrap(err, fmt.Sprintf("load interrupted before %s", path))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, errors.IOWrap(err, fmt.Sprintf("stat %s", path))
	}

	ext := strings.ToLower(filepath.Ext(path))
	kind, ok := extensions[ext]
	if !ok {
		return nil, errors.UnsupportedFormat(ext)
	}

	var table *models.Table
	switch kind {
	case formatSpreadsheet:
		table, err = readSpreadsheet(path, l.cfg.Sheet)
	default:
		table, err = readDelimited(path)
	}
	if err != nil {
		return nil, err
	}

	if len(table.Rows) == 0 {
		return nil, errors.EmptyData(path)
	}

	table.Columns = NormalizeColumns(table.Columns)

	if err := ValidateColumns(table.Columns, l.cfg.RequiredColumns); err != nil {
		return nil, err
	}

	l.logger.Info("file loaded",
		"path", path,
		"size", humanize.Bytes(uint64(info.Size())),
		"rows", len(table.Rows),
		"columns", len(table.Columns))

	return table, nil
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonIdentifier = regexp.MustCompile(`[^a-z0-9_]`)
)

// NormalizeColumn lower-cases name, replaces whitespace runs with a single
// underscore and drops everything outside [a-z0-9_].
func NormalizeColumn(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = whitespaceRun.ReplaceAllString(n, "_")
	return nonIdentifier.ReplaceAllString(n, "")
}

// NormalizeColumns normalizes every name, preserving order.
func NormalizeColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = NormalizeColumn(c)
	}
	return out
}

// ValidateColumns fails with a schema error naming every required column not
// present in found.
func ValidateColumns(found, required []string) error {
	var missing []string
	for _, c := range required {
		if !slices.Contains(found, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errors.Schema(missing, found)
	}
	return nil
}

func readDelimited(path string) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.IOWrap(err, fmt.Sprintf("open %s", path))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.EmptyData(path)
	}
	if err != nil {
		return nil, errors.IOWrap(err, fmt.Sprintf("read header of %s", path))
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := &models.Table{Columns: header}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.IOWrap(err, fmt.Sprintf("parse %s", path))
		}
		if blank(record) {
			continue
		}
		table.Rows = append(table.Rows, record)
	}

	return table, nil
}

func readSpreadsheet(path, sheet string) (*models.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.IOWrap(err, fmt.Sprintf("open spreadsheet %s", path))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if sheet == "" {
		if len(sheets) == 0 {
			return nil, errors.EmptyData(path)
		}
		sheet = sheets[0]
	} else if !slices.Contains(sheets, sheet) {
		return nil, errors.IOWrap(
			fmt.Errorf("available sheets: [%s]", strings.Join(sheets, ", ")),
			fmt.Sprintf("sheet %q not found in %s", sheet, path))
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.IOWrap(err, fmt.Sprintf("read sheet %q of %s", sheet, path))
	}
	if len(rows) == 0 {
		return nil, errors.EmptyData(path)
	}

	table := &models.Table{Columns: rows[0]}
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
