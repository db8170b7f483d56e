// Package report renders analysis results as a plain-text insights report.
package report

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/dustin/go-humanize"

	"retail-insights/internal/config"
	"retail-insights/internal/errors"
	"retail-insights/internal/models"
	"retail-insights/internal/services"
)

const dayLayout = "2006-01-02"

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"money": FormatMoney,
}).Parse(`AUTOMATED BUSINESS INSIGHTS REPORT
================================

Date range: {{.Metrics.DateStart}} to {{.Metrics.DateEnd}}

Key metrics
-----------
Total revenue: {{money .Currency .Metrics.TotalRevenue}}
Total orders: {{.Metrics.TotalOrders}}
Total customers: {{.Metrics.TotalCustomers}}
Average order value: {{money .Currency .Metrics.AvgOrderValue}}

Returns
-------
Return-related revenue (often negative): {{money .Currency .Metrics.ReturnsRevenue}}
Orders with returns: {{.Metrics.ReturnsOrdersCount}}

Highlights
----------
{{.BestDay}}
{{.TopProduct}}
{{.Anomalies}}

Notes
-----
- This report is generated automatically from raw transactional data.
- Outputs are designed for repeatable operational reporting.
`))

type reportData struct {
	Currency   string
	Metrics    models.Metrics
	BestDay    string
	TopProduct string
	Anomalies  string
}

type Reporter struct {
	cfg    config.ReportConfig
	logger *slog.Logger
}

func NewReporter(cfg config.ReportConfig, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		cfg:    cfg,
		logger: logger.With("component", "report"),
	}
}

// Render builds the report text. Highlight lines for empty tables are blank;
// the anomaly line always states a count.
func (r *Reporter) Render(res *services.Result) (string, error) {
	data := reportData{
		Currency:   r.cfg.CurrencySymbol,
		Metrics:    res.Metrics,
		BestDay:    r.bestDayLine(res.DailyTrend),
		TopProduct: r.topProductLine(res.TopProducts),
		Anomalies:  r.anomalyLine(res.Anomalies),
	}

	var buf strings.Builder
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", errors.InternalWrap(err, "render report")
	}
	return buf.String(), nil
}

// Generate renders the report and writes it under dir, returning the path.
func (r *Reporter) Generate(res *services.Result, dir string) (string, error) {
	text, err := r.Render(res)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.IOWrap(err, fmt.Sprintf("create report directory %s", dir))
	}
	path := filepath.Join(dir, r.cfg.ReportFilename)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", errors.IOWrap(err, fmt.Sprintf("write report %s", path))
	}

	r.logger.Info("report written", "path", path, "bytes", len(text))
	return path, nil
}

func (r *Reporter) bestDayLine(daily []models.DailyRevenue) string {
	best, ok := services.BestDay(daily)
	if !ok {
		return ""
	}
	return fmt.Sprintf("Best day: %s with %s",
		best.Date.Format(dayLayout), FormatMoney(r.cfg.CurrencySymbol, best.DailyRevenue))
}

func (r *Reporter) topProductLine(top []models.ProductRevenue) string {
	if len(top) == 0 {
		return ""
	}
	p := top[0]
	return fmt.Sprintf("Top product: %s - %s... (%s)",
		p.StockCode, truncate(p.Description, r.cfg.DescriptionWidth), FormatMoney(r.cfg.CurrencySymbol, p.TotalRevenue))
}

func (r *Reporter) anomalyLine(anomalies []models.Anomaly) string {
	if len(anomalies) == 0 {
		return "Revenue anomaly days detected: 0"
	}

	n := min(len(anomalies), r.cfg.MaxAnomalyExamples)
	dates := make([]string, n)
	for i, a := range anomalies[:n] {
		dates[i] = a.Date.Format(dayLayout)
	}
	return fmt.Sprintf("Revenue anomaly days detected: %d (examples: %s)",
		len(anomalies), strings.Join(dates, ", "))
}

// FormatMoney renders v with thousands separators and two decimals, prefixed
// by symbol: "$1,234.50", "$-27.50". Rounding uses the exact binary value with
// ties to even, so 0.125 gives "0.12" and 10.075 gives "10.07".
func FormatMoney(symbol string, v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return symbol + s
	}

	sign := ""
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		sign, s = "-", rest
	}
	whole, frac, _ := strings.Cut(s, ".")
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = humanize.Comma(n)
	}
	return symbol + sign + whole + "." + frac
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width])
}
