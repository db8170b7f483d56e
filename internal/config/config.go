package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"retail-insights/internal/errors"
)

type Config struct {
	Ingest  IngestConfig  `yaml:"ingest"`
	Clean   CleanConfig   `yaml:"clean"`
	Analyze AnalyzeConfig `yaml:"analyze"`
	Report  ReportConfig  `yaml:"report"`
	Output  OutputConfig  `yaml:"output"`
	Logger  LoggerConfig  `yaml:"logger"`
}

type IngestConfig struct {
	RequiredColumns []string `yaml:"required_columns" validate:"required,min=1,dive,required"`
	// Sheet selects a spreadsheet tab; empty means the first sheet.
	Sheet             string `yaml:"sheet"`
	DiscoverExtension string `yaml:"discover_extension" validate:"required,startswith=."`
}

type CleanConfig struct {
	DropMissingCustomerID  bool     `yaml:"drop_missing_customerid"`
	DropMissingDescription bool     `yaml:"drop_missing_description"`
	ProcessedFilename      string   `yaml:"processed_filename" validate:"required"`
	DateLayouts            []string `yaml:"date_layouts" validate:"required,min=1"`
	// WriteBOM prefixes the processed csv with a UTF-8 byte order mark.
	WriteBOM               bool     `yaml:"write_bom"`
}

type AnalyzeConfig struct {
	MetricsFilename     string  `yaml:"metrics_filename" validate:"required"`
	DailyTrendFilename  string  `yaml:"daily_trend_filename" validate:"required"`
	TopProductsFilename string  `yaml:"top_products_filename" validate:"required"`
	AnomaliesFilename   string  `yaml:"anomalies_filename" validate:"required"`
	TopNProducts        int     `yaml:"top_n_products" validate:"min=1"`
	AnomalySigma        float64 `yaml:"anomaly_sigma" validate:"gt=0"`
}

type ReportConfig struct {
	ReportFilename     string `yaml:"report_filename" validate:"required"`
	CurrencySymbol     string `yaml:"currency_symbol"`
	DescriptionWidth   int    `yaml:"description_width" validate:"min=1"`
	MaxAnomalyExamples int    `yaml:"max_anomaly_examples" validate:"min=1"`
}

type OutputConfig struct {
	ProcessedDir string `yaml:"processed_dir" validate:"required"`
	OutputDir    string `yaml:"output_dir" validate:"required"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultRequiredColumns is the fixed transaction field set every input must
// carry after column normalization.
var DefaultRequiredColumns = []string{
	"invoiceno",
	"stockcode",
	"description",
	"quantity",
	"invoicedate",
	"unitprice",
	"customerid",
	"country",
}

// DefaultDateLayouts are tried in order when parsing invoicedate. Slash dates
// are month-first.
var DefaultDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"1/2/06 15:04:05",
	"1/2/06 15:04",
	"1/2/06",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

func Default() Config {
	return Config{
		Ingest: IngestConfig{
			RequiredColumns:   slices.Clone(DefaultRequiredColumns),
			DiscoverExtension: ".csv",
		},
		Clean: CleanConfig{
			ProcessedFilename: "clean.csv",
			DateLayouts:       slices.Clone(DefaultDateLayouts),
		},
		Analyze: AnalyzeConfig{
			MetricsFilename:     "summary_metrics.csv",
			DailyTrendFilename:  "daily_revenue_trend.csv",
			TopProductsFilename: "top_products_by_revenue.csv",
			AnomaliesFilename:   "revenue_anomalies.csv",
			TopNProducts:        10,
			AnomalySigma:        2,
		},
		Report: ReportConfig{
			ReportFilename:     "insights_report.txt",
			CurrencySymbol:     "$",
			DescriptionWidth:   60,
			MaxAnomalyExamples: 8,
		},
		Output: OutputConfig{
			ProcessedDir: "data/processed",
			OutputDir:    "output",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.InvalidConfig(fmt.Errorf("read config file: %w", err))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.InvalidConfig(fmt.Errorf("parse config file %s: %w", path, err))
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.InvalidConfig(err)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, strings.ToLower(c.Logger.Level)) {
		return errors.InvalidConfig(fmt.Errorf("invalid log level %q, must be one of: %s",
			c.Logger.Level, strings.Join(validLogLevels, ", ")))
	}

	validLogFormats := []string{"json", "text"}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Logger.Format)) {
		return errors.InvalidConfig(fmt.Errorf("invalid log format %q, must be one of: %s",
			c.Logger.Format, strings.Join(validLogFormats, ", ")))
	}

	return nil
}
