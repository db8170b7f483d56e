package clean

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-insights/internal/config"
	"retail-insights/internal/models"
)

var retailColumns = []string{
	"invoiceno", "stockcode", "description", "quantity",
	"invoicedate", "unitprice", "customerid", "country",
}

func newTestCleaner(mutate ...func(*config.CleanConfig)) *Cleaner {
	cfg := config.Default().Clean
	for _, m := range mutate {
		m(&cfg)
	}
	return NewCleaner(cfg, nil)
}

func retailTable(rows ...[]string) *models.Table {
	return &models.Table{Columns: retailColumns, Rows: rows}
}

func TestClean_DerivesFields(t *testing.T) {
	table := retailTable(
		[]string{" 536365 ", "85123A ", " WHITE HANGING HEART ", "6", "12/1/2010 8:26", "2.55", "17850", "United Kingdom "},
		[]string{"C536379", "D", "Discount", "-1", "2010-12-05 09:41:00", "27.5", "14527", "United Kingdom"},
	)

	ds, stats := newTestCleaner().Clean(table)

	require.Len(t, ds.Records, 2)
	assert.Equal(t, 2, stats.Output)

	first := ds.Records[0]
	assert.Equal(t, "536365", first.InvoiceNo)
	assert.Equal(t, "85123A", first.StockCode)
	assert.Equal(t, "WHITE HANGING HEART", first.Description)
	assert.Equal(t, "United Kingdom", first.Country)
	assert.InDelta(t, 15.3, first.Revenue, 1e-9)
	assert.False(t, first.IsReturn)
	assert.Equal(t, time.Date(2010, 12, 1, 8, 26, 0, 0, time.UTC), first.InvoiceDate.Value)
	assert.Equal(t, "2010-12-01", first.InvoiceDay)
	assert.Equal(t, "2010-12", first.InvoiceMonth)
	assert.Equal(t, "2010-11-29/2010-12-05", first.InvoiceWeek)

	ret := ds.Records[1]
	assert.True(t, ret.IsReturn)
	assert.InDelta(t, -27.5, ret.Revenue, 1e-9)
	// Sunday still belongs to the week that started on Monday.
	assert.Equal(t, "2010-11-29/2010-12-05", ret.InvoiceWeek)
}

func TestClean_Filters(t *testing.T) {
	table := retailTable(
		[]string{"1", "A", "Mug", "2", "2010-12-01", "1.5", "100", "UK"},
		[]string{"2", "A", "Mug", "abc", "2010-12-01", "1.5", "100", "UK"},
		[]string{"3", "A", "Mug", "2", "not a date", "1.5", "100", "UK"},
		[]string{"4", "A", "Mug", "2", "2010-12-01", "", "100", "UK"},
		[]string{"5", "A", "Mug", "0", "2010-12-01", "1.5", "100", "UK"},
		[]string{"6", "A", "Mug", "2", "2010-12-01", "0", "100", "UK"},
		[]string{"7", "A", "Mug", "2", "2010-12-01", "1.5", "", "UK"},
		[]string{"8", "A", "", "2", "2010-12-01", "1.5", "100", "UK"},
		[]string{"1", "A", "Mug", "2.0", "2010-12-01 00:00:00", "1.50", "100", "UK"},
	)

	ds, stats := newTestCleaner().Clean(table)

	assert.Equal(t, Stats{
		Input:           9,
		MissingRequired: 3,
		ZeroValue:       2,
		Duplicates:      1,
		Output:          3,
	}, stats)

	var invoices []string
	for _, r := range ds.Records {
		invoices = append(invoices, r.InvoiceNo)
	}
	assert.Equal(t, []string{"1", "7", "8"}, invoices)
	assert.False(t, ds.Records[1].CustomerID.Valid)
}

func TestClean_OptionalDrops(t *testing.T) {
	table := retailTable(
		[]string{"1", "A", "Mug", "2", "2010-12-01", "1.5", "100", "UK"},
		[]string{"7", "A", "Mug", "2", "2010-12-01", "1.5", "n/a", "UK"},
		[]string{"8", "A", "  ", "2", "2010-12-01", "1.5", "100", "UK"},
	)

	ds, stats := newTestCleaner(func(c *config.CleanConfig) {
		c.DropMissingCustomerID = true
		c.DropMissingDescription = true
	}).Clean(table)

	require.Len(t, ds.Records, 1)
	assert.Equal(t, 1, stats.MissingCustomerID)
	assert.Equal(t, 1, stats.MissingDescription)
}

func TestClean_EmptyResultIsValid(t *testing.T) {
	table := retailTable(
		[]string{"1", "A", "Mug", "0", "2010-12-01", "1.5", "100", "UK"},
	)

	ds, stats := newTestCleaner().Clean(table)

	assert.Empty(t, ds.Records)
	assert.Equal(t, 0, stats.Output)
	assert.Equal(t, retailColumns, ds.Columns)
}

func TestClean_KeepsExtraColumns(t *testing.T) {
	table := &models.Table{
		Columns: append(append([]string{}, retailColumns...), "channel", "revenue"),
		Rows: [][]string{
			{"1", "A", "Mug", "2", "2010-12-01", "1.5", "100", "UK", "web", "999"},
			{"1", "A", "Mug", "2", "2010-12-01", "1.5", "100", "UK", "store", "999"},
		},
	}

	ds, stats := newTestCleaner().Clean(table)

	assert.Equal(t, []string{"channel"}, ds.ExtraColumns)
	assert.NotContains(t, ds.Columns, "revenue")
	// rows differ in an extra column so neither is a duplicate
	assert.Equal(t, 0, stats.Duplicates)
	require.Len(t, ds.Records, 2)
	assert.Equal(t, []string{"web"}, ds.Records[0].Extra)
	assert.InDelta(t, 3.0, ds.Records[0].Revenue, 1e-9)
}

func TestClean_Idempotent(t *testing.T) {
	table := retailTable(
		[]string{"536365", "85123A", "WHITE HANGING HEART", "6", "12/1/2010 8:26", "2.55", "17850", "United Kingdom"},
		[]string{"536365", "85123A", "WHITE HANGING HEART", "6", "12/1/2010 8:26", "2.55", "17850", "United Kingdom"},
		[]string{"C536379", "D", "Discount", "-1", "12/1/2010 9:41", "27.5", "", "United Kingdom"},
		[]string{"536380", "22961", "JAM MAKING SET", "oops", "12/1/2010 9:41", "1.45", "17809", "United Kingdom"},
		// same line a fraction of a second apart is not a duplicate
		[]string{"536381", "22961", "JAM MAKING SET", "2", "2010-12-01 10:00:00.25", "1.45", "17809", "United Kingdom"},
		[]string{"536381", "22961", "JAM MAKING SET", "2", "2010-12-01 10:00:00.75", "1.45", "17809", "United Kingdom"},
		[]string{"536382", "21730", "GLASS STAR", "1", "2010-12-01T23:30:00-05:00", "4.25", "13047", "United States"},
	)
	c := newTestCleaner()

	first, stats := c.Clean(table)
	assert.Equal(t, 5, stats.Output)

	snap := Snapshot(first)
	dates := make([]string, len(snap.Rows))
	for i, row := range snap.Rows {
		dates[i] = row[4]
	}
	assert.Equal(t, []string{
		"2010-12-01 08:26:00",
		"2010-12-01 09:41:00",
		"2010-12-01 10:00:00.25",
		"2010-12-01 10:00:00.75",
		"2010-12-01 23:30:00-05:00",
	}, dates)

	second, stats := c.Clean(snap)

	assert.Equal(t, Stats{Input: 5, Output: 5}, stats)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second clean changed the dataset (-first +second):\n%s", diff)
	}
}

func TestClean_DuplicateExtraColumnNames(t *testing.T) {
	table := &models.Table{
		Columns: append(append([]string{}, retailColumns...), "note", "note"),
		Rows: [][]string{
			{"1", "A", "Mug", "2", "2010-12-01", "1.5", "100", "UK", "gift", "fragile"},
		},
	}
	c := newTestCleaner()

	ds, _ := c.Clean(table)

	assert.Equal(t, []string{"note", "note"}, ds.ExtraColumns)
	require.Len(t, ds.Records, 1)
	assert.Equal(t, []string{"gift", "fragile"}, ds.Records[0].Extra)

	snap := Snapshot(ds)
	assert.Equal(t, []string{"gift", "fragile"}, snap.Rows[0][8:10])

	again, _ := c.Clean(snap)
	if diff := cmp.Diff(ds, again); diff != "" {
		t.Errorf("re-clean changed the dataset (-first +second):\n%s", diff)
	}
}

func TestClean_BucketsOnSourceOffset(t *testing.T) {
	table := retailTable(
		[]string{"1", "A", "Mug", "2", "2010-12-31T23:30:00-05:00", "1.5", "100", "US"},
	)

	ds, _ := newTestCleaner().Clean(table)

	require.Len(t, ds.Records, 1)
	tx := ds.Records[0]
	assert.Equal(t, "2010-12-31", tx.InvoiceDay)
	assert.Equal(t, "2010-12", tx.InvoiceMonth)
	assert.Equal(t, "2010-12-27/2011-01-02", tx.InvoiceWeek)
	assert.True(t, time.Date(2011, 1, 1, 4, 30, 0, 0, time.UTC).Equal(tx.InvoiceDate.Value))
}

func TestFormatTimestamp(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)

	assert.Equal(t, "2010-12-01 10:00:00", FormatTimestamp(time.Date(2010, 12, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2010-12-01 10:00:00.000001", FormatTimestamp(time.Date(2010, 12, 1, 10, 0, 0, 1000, time.UTC)))
	assert.Equal(t, "2010-12-01 23:30:00-05:00", FormatTimestamp(time.Date(2010, 12, 1, 23, 30, 0, 0, est)))
}

func TestSnapshot_Columns(t *testing.T) {
	table := retailTable(
		[]string{"1", "A", "Mug", "2", "2010-12-01 10:00:00", "1.5", "", "UK"},
	)
	ds, _ := newTestCleaner().Clean(table)

	snap := Snapshot(ds)

	assert.Equal(t, append(append([]string{}, retailColumns...), DerivedColumns...), snap.Columns)
	assert.Equal(t, [][]string{{
		"1", "A", "Mug", "2", "2010-12-01 10:00:00", "1.5", "", "UK",
		"3", "false", "2010-12-01", "2010-12", "2010-11-29/2010-12-05",
	}}, snap.Rows)
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "processed")
	table := retailTable(
		[]string{"1", "A", "Mug, large", "2", "2010-12-01", "1.5", "100", "UK"},
	)
	c := newTestCleaner()
	ds, _ := c.Clean(table)

	path, err := c.Save(ds, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clean.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "Mug, large", records[1][2])
	assert.Equal(t, "revenue", records[0][8])
}

func TestSave_WriteBOM(t *testing.T) {
	dir := t.TempDir()
	table := retailTable(
		[]string{"1", "A", "Mug", "2", "2010-12-01", "1.5", "100", "UK"},
	)
	c := newTestCleaner(func(cfg *config.CleanConfig) { cfg.WriteBOM = true })
	ds, _ := c.Clean(table)

	path, err := c.Save(ds, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\ufeffinvoiceno,"), "got %q", string(data[:16]))

	plain, err := newTestCleaner().Save(ds, filepath.Join(dir, "plain"))
	require.NoError(t, err)
	data, err = os.ReadFile(plain)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "invoiceno,"))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in    string
		want  float64
		valid bool
	}{
		{"6", 6, true},
		{" -2.5 ", -2.5, true},
		{"1e3", 1000, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"1,000", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseNumber(tt.in)
			assert.Equal(t, tt.valid, got.Valid)
			assert.Equal(t, tt.want, got.Value)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	layouts := config.DefaultDateLayouts
	want := time.Date(2010, 12, 1, 8, 26, 0, 0, time.UTC)

	for _, in := range []string{
		"2010-12-01 08:26:00",
		"2010-12-01T08:26:00",
		"2010-12-01T09:26:00+01:00",
		"12/1/2010 8:26",
		"12/1/10 8:26",
		"2010/12/01 08:26:00",
		"2010-12-01 03:26:00-05:00",
		"2010-12-01 08:26:00.000",
	} {
		t.Run(in, func(t *testing.T) {
			got := ParseTimestamp(in, layouts)
			require.True(t, got.Valid)
			assert.True(t, want.Equal(got.Value), "got %s", got.Value)
		})
	}

	assert.False(t, ParseTimestamp("yesterday", layouts).Valid)
	assert.False(t, ParseTimestamp("", layouts).Valid)
}

func TestWeekLabel(t *testing.T) {
	tests := []struct {
		day  time.Time
		want string
	}{
		{time.Date(2010, 12, 6, 0, 0, 0, 0, time.UTC), "2010-12-06/2010-12-12"},
		{time.Date(2010, 12, 12, 23, 59, 0, 0, time.UTC), "2010-12-06/2010-12-12"},
		{time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC), "2010-12-27/2011-01-02"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, WeekLabel(tt.day))
	}
}
