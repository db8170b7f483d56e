package services

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retail-insights/internal/config"
	"retail-insights/internal/errors"
	"retail-insights/internal/exporter"
	"retail-insights/internal/models"
)

const (
	dayLayout      = "2006-01-02"
	isoLayout      = "2006-01-02T15:04:05"
	productKeySep  = "\x1f"
	metricsColName = "metric"
)

// Result holds everything computed from one clean dataset. It is not modified
// after Compute returns.
type Result struct {
	Metrics     models.Metrics
	DailyTrend  []models.DailyRevenue
	TopProducts []models.ProductRevenue
	Anomalies   []models.Anomaly
	// Threshold is the anomaly cut-off; zero when the trend is empty.
	Threshold float64
}

// Artifact is a named output file.
type Artifact struct {
	Name string
	Path string
}

type Analytics struct {
	cfg    config.AnalyzeConfig
	logger *slog.Logger
}

func NewAnalytics(cfg config.AnalyzeConfig, logger *slog.Logger) *Analytics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analytics{
		cfg:    cfg,
		logger: logger.With("component", "analyze"),
	}
}

// Compute derives the scalar metrics and the three tables. It never fails;
// an empty dataset yields zero metrics and empty tables.
func (a *Analytics) Compute(ds *models.Dataset) *Result {
	var records []models.Transaction
	if ds != nil {
		records = ds.Records
	}

	res := &Result{
		Metrics:     computeMetrics(records),
		DailyTrend:  a.dailyTrend(records),
		TopProducts: a.topProducts(records),
	}
	res.Anomalies, res.Threshold = DetectAnomalies(res.DailyTrend, a.cfg.AnomalySigma)

	a.logger.Info("analysis complete",
		"records", len(records),
		"orders", res.Metrics.TotalOrders,
		"days", len(res.DailyTrend),
		"top_products", len(res.TopProducts),
		"anomalies", len(res.Anomalies),
		"threshold", res.Threshold)

	return res
}

func computeMetrics(records []models.Transaction) models.Metrics {
	total := decimal.Zero
	returns := decimal.Zero
	orders := make(map[string]struct{})
	returnOrders := make(map[string]struct{})
	customers := make(map[float64]struct{})

	var start, end time.Time
	for i, tx := range records {
		rev := decimal.NewFromFloat(tx.Revenue)
		total = total.Add(rev)
		orders[tx.InvoiceNo] = struct{}{}
		if tx.CustomerID.Valid {
			customers[tx.CustomerID.Value] = struct{}{}
		}
		if tx.IsReturn {
			returns = returns.Add(rev)
			returnOrders[tx.InvoiceNo] = struct{}{}
		}

		ts := tx.InvoiceDate.Value
		if i == 0 || ts.Before(start) {
			start = ts
		}
		if i == 0 || ts.After(end) {
			end = ts
		}
	}

	m := models.Metrics{
		TotalRevenue:       total.InexactFloat64(),
		TotalOrders:        len(orders),
		TotalCustomers:     len(customers),
		ReturnsRevenue:     returns.InexactFloat64(),
		ReturnsOrdersCount: len(returnOrders),
	}
	if m.TotalOrders > 0 {
		m.AvgOrderValue = total.Div(decimal.NewFromInt(int64(m.TotalOrders))).InexactFloat64()
	}
	if len(records) > 0 {
		m.DateStart = start.Format(isoLayout)
		m.DateEnd = end.Format(isoLayout)
	}
	return m
}

func (a *Analytics) dailyTrend(records []models.Transaction) []models.DailyRevenue {
	groups := make(map[string]decimal.Decimal)
	for _, tx := range records {
		groups[tx.InvoiceDay] = groups[tx.InvoiceDay].Add(decimal.NewFromFloat(tx.Revenue))
	}

	result := make([]models.DailyRevenue, 0, len(groups))
	for day, sum := range groups {
		date, err := time.Parse(dayLayout, day)
		if err != nil {
			a.logger.Warn("skipping malformed invoice day", "day", day, "error", err)
			continue
		}
		result = append(result, models.DailyRevenue{Date: date, DailyRevenue: sum.InexactFloat64()})
	}
	slices.SortFunc(result, func(a, b models.DailyRevenue) int {
		return a.Date.Compare(b.Date)
	})
	return result
}

type productTotal struct {
	stockCode   string
	description string
	sum         decimal.Decimal
}

// topProducts ranks (stockcode, description) pairs by summed revenue. Equal
// revenue is ordered by stockcode, then description.
func (a *Analytics) topProducts(records []models.Transaction) []models.ProductRevenue {
	groups := make(map[string]*productTotal)
	for _, tx := range records {
		key := tx.StockCode + productKeySep + tx.Description
		if groups[key] == nil {
			groups[key] = &productTotal{stockCode: tx.StockCode, description: tx.Description}
		}
		groups[key].sum = groups[key].sum.Add(decimal.NewFromFloat(tx.Revenue))
	}

	totals := make([]*productTotal, 0, len(groups))
	for _, p := range groups {
		totals = append(totals, p)
	}
	slices.SortFunc(totals, func(a, b *productTotal) int {
		if c := b.sum.Cmp(a.sum); c != 0 {
			return c
		}
		if c := strings.Compare(a.stockCode, b.stockCode); c != 0 {
			return c
		}
		return strings.Compare(a.description, b.description)
	})

	limit := min(a.cfg.TopNProducts, len(totals))
	result := make([]models.ProductRevenue, 0, limit)
	for _, p := range totals[:limit] {
		result = append(result, models.ProductRevenue{
			StockCode:    p.stockCode,
			Description:  p.description,
			TotalRevenue: p.sum.InexactFloat64(),
		})
	}
	return result
}

// DetectAnomalies flags days whose revenue reaches mean + sigma × population
// standard deviation. With one day or fewer, or a flat series, the deviation
// is zero and nothing is flagged. The threshold is returned and attached to
// every flagged row.
func DetectAnomalies(daily []models.DailyRevenue, sigma float64) ([]models.Anomaly, float64) {
	if len(daily) == 0 {
		return []models.Anomaly{}, 0
	}

	values := make([]float64, len(daily))
	for i, d := range daily {
		values[i] = d.DailyRevenue
	}
	mu := mean(values)
	sd := 0.0
	if len(values) > 1 {
		sd = populationStdDev(values, mu)
	}
	threshold := mu + sigma*sd

	anomalies := []models.Anomaly{}
	if sd == 0 {
		return anomalies, threshold
	}
	for _, d := range daily {
		if d.DailyRevenue >= threshold {
			anomalies = append(anomalies, models.Anomaly{
				Date:         d.Date,
				DailyRevenue: d.DailyRevenue,
				Threshold:    threshold,
			})
		}
	}
	return anomalies, threshold
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64, mu float64) float64 {
	var ss float64
	for _, v := range values {
		d := v - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// MetricRows lists the scalar metrics as (name, value) pairs in report order.
func MetricRows(m models.Metrics) [][]string {
	return [][]string{
		{"total_revenue", formatFloat(m.TotalRevenue)},
		{"total_orders", strconv.Itoa(m.TotalOrders)},
		{"total_customers", strconv.Itoa(m.TotalCustomers)},
		{"avg_order_value", formatFloat(m.AvgOrderValue)},
		{"returns_revenue", formatFloat(m.ReturnsRevenue)},
		{"returns_orders_count", strconv.Itoa(m.ReturnsOrdersCount)},
		{"date_start", m.DateStart},
		{"date_end", m.DateEnd},
	}
}

// Save writes the metrics and the three tables to dir. Paths are returned in
// write order: metrics, daily_trend, top_products, anomalies.
func (a *Analytics) Save(res *Result, dir string) ([]Artifact, error) {
	daily := make([][]string, 0, len(res.DailyTrend))
	for _, d := range res.DailyTrend {
		daily = append(daily, []string{d.Date.Format(dayLayout), formatFloat(d.DailyRevenue)})
	}

	top := make([][]string, 0, len(res.TopProducts))
	for _, p := range res.TopProducts {
		top = append(top, []string{p.StockCode, p.Description, formatFloat(p.TotalRevenue)})
	}

	anomalies := make([][]string, 0, len(res.Anomalies))
	for _, an := range res.Anomalies {
		anomalies = append(anomalies, []string{
			an.Date.Format(dayLayout), formatFloat(an.DailyRevenue), formatFloat(an.Threshold),
		})
	}

	outputs := []struct {
		name    string
		file    string
		headers []string
		rows    [][]string
	}{
		{"metrics", a.cfg.MetricsFilename, []string{metricsColName, "value"}, MetricRows(res.Metrics)},
		{"daily_trend", a.cfg.DailyTrendFilename, []string{"date", "daily_revenue"}, daily},
		{"top_products", a.cfg.TopProductsFilename, []string{"stockcode", "description", "total_revenue"}, top},
		{"anomalies", a.cfg.AnomaliesFilename, []string{"date", "daily_revenue", "threshold"}, anomalies},
	}

	artifacts := make([]Artifact, 0, len(outputs))
	for _, out := range outputs {
		path := filepath.Join(dir, out.file)
		if err := exporter.WriteSimpleCSV(path, out.headers, out.rows); err != nil {
			return nil, errors.IOWrap(err, fmt.Sprintf("write %s", path))
		}
		artifacts = append(artifacts, Artifact{Name: out.name, Path: path})
	}

	a.logger.Info("analysis outputs saved", "dir", dir, "files", len(artifacts))
	return artifacts, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BestDay returns the day with the highest revenue; the earliest wins ties.
func BestDay(daily []models.DailyRevenue) (models.DailyRevenue, bool) {
	if len(daily) == 0 {
		return models.DailyRevenue{}, false
	}
	best := slices.MaxFunc(daily, func(a, b models.DailyRevenue) int {
		if c := cmp.Compare(a.DailyRevenue, b.DailyRevenue); c != 0 {
			return c
		}
		return b.Date.Compare(a.Date)
	})
	return best, true
}
