// Package config centralizes run configuration. Tunables come from
// command-line flags whose defaults are seeded from environment variables
// (optionally loaded from a .env file); the per-plant job list and the site
// lookup table live in a YAML manifest.
//
// Typical usage:
//
//	_ = config.LoadDotEnv(".env")
//	cfg := config.Load()
//
// For tests, prefer LoadFromArgs to keep them hermetic:
//
//	fs := flag.NewFlagSet("test", flag.ContinueOnError)
//	getenv := func(k string) string { return testEnv[k] }
//	cfg := config.LoadFromArgs(fs, getenv, []string{"-workers=2"})
package config

import (
	"errors"
	"flag"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all process configuration derived from flags and
// environment variables. It is a plain value and safe to share after
// construction.
type Config struct {
	// Manifest is the YAML file with sites and jobs.
	Manifest string

	// Single-job mode. When CSV is set these replace the manifest's jobs.
	Layout    string
	Site      string
	CSV       string
	Encoding  string
	Delimiter string

	SkippedDir  string // Directory for per-job skip logs.
	SampleLimit int    // Skip messages kept for the summary.

	// DB describes the target database. DBDriver is postgres, mssql or
	// sqlite; "none" schedules without writing anything.
	DBDriver     string
	DSN          string
	DBUser       string
	DBPassword   string
	DBHost       string
	DBPort       string
	DBName       string
	CreateSchema bool

	BatchSize int // Events per transaction.
	Workers   int // Jobs processed concurrently.

	// Overrides for manifest defaults; empty or zero keeps the manifest.
	Timezone         string
	LabTestTime      string
	TwoDigitYearBase int

	LogMode  string
	LogLevel string

	// MetricsBackend is pushgateway, datadog or none. A backend without
	// its address configured stays disabled.
	MetricsBackend string
	PushgatewayURL string
	StatsdAddr     string
	MetricsJob     string
}

// LoadFromArgs defines flags on fs, seeds each default from getenv and
// parses args.
//
// Precedence:
//  1. Environment values seed each flag's default.
//  2. Explicit CLI flags (in args) override the seeded defaults.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) *Config {
	cfg := &Config{}

	envOrDefaultFn := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	intEnvOrDefaultFn := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}
	boolEnvOrDefaultFn := func(k string, d bool) bool {
		return parseBool(getenv(k), d)
	}

	fs.StringVar(&cfg.Manifest, "manifest", envOrDefaultFn("LABMIGRATE_MANIFEST", "labmigrate.yaml"), "YAML manifest with sites and jobs")
	fs.StringVar(&cfg.Layout, "layout", getenv("LABMIGRATE_LAYOUT"), "Single job: source layout (p1, silao, p2, p4, p5)")
	fs.StringVar(&cfg.Site, "site", getenv("LABMIGRATE_SITE"), "Single job: site code from the manifest's site table")
	fs.StringVar(&cfg.CSV, "csv", getenv("LABMIGRATE_CSV"), "Single job: path to the plant CSV export")
	fs.StringVar(&cfg.Encoding, "encoding", getenv("LABMIGRATE_ENCODING"), "Single job: file encoding (utf-8, windows-1252, iso-8859-1)")
	fs.StringVar(&cfg.Delimiter, "delimiter", envOrDefaultFn("LABMIGRATE_DELIMITER", ","), "Single job: field delimiter")

	fs.StringVar(&cfg.SkippedDir, "skipped_dir", envOrDefaultFn("SKIPPED_DIR", "./skipped"), "Directory for per-job skip logs")
	fs.IntVar(&cfg.SampleLimit, "sample", intEnvOrDefaultFn("SKIP_SAMPLE", 20), "Skip messages kept per job for the summary")

	fs.StringVar(&cfg.DBDriver, "db_driver", envOrDefaultFn("DB_DRIVER", "postgres"), "Database driver: postgres, mysql, mssql, sqlite or none")
	fs.StringVar(&cfg.DSN, "dsn", getenv("DB_DSN"), "Full DSN (required for mysql, mssql and sqlite)")
	fs.StringVar(&cfg.DBUser, "db_user", envOrDefaultFn("DB_USER", "postgres"), "DB user")
	fs.StringVar(&cfg.DBPassword, "db_password", getenv("DB_PASSWORD"), "DB password")
	fs.StringVar(&cfg.DBHost, "db_host", envOrDefaultFn("DB_HOST", "localhost"), "DB host")
	fs.StringVar(&cfg.DBPort, "db_port", envOrDefaultFn("DB_PORT", "5432"), "DB port")
	fs.StringVar(&cfg.DBName, "db_name", envOrDefaultFn("DB_NAME", "postgres"), "DB name")
	fs.BoolVar(&cfg.CreateSchema, "create_schema", boolEnvOrDefaultFn("CREATE_SCHEMA", false), "Create the target tables if missing")

	fs.IntVar(&cfg.BatchSize, "batch_size", intEnvOrDefaultFn("BATCH_SIZE", 500), "Events per transaction")
	fs.IntVar(&cfg.Workers, "workers", intEnvOrDefaultFn("WORKERS", 4), "Jobs processed concurrently")

	fs.StringVar(&cfg.Timezone, "timezone", getenv("LABMIGRATE_TIMEZONE"), "Event timezone name (overrides manifest)")
	fs.StringVar(&cfg.LabTestTime, "lab_test_time", getenv("LABMIGRATE_LAB_TEST_TIME"), "Time of day for day-based tests, HH:MM (overrides manifest)")
	fs.IntVar(&cfg.TwoDigitYearBase, "two_digit_year_base", intEnvOrDefaultFn("LABMIGRATE_TWO_DIGIT_YEAR_BASE", 0), "Century for dd/mm/yy dates, e.g. 2000; 0 rejects them")

	fs.StringVar(&cfg.LogMode, "log_mode", envOrDefaultFn("LOG_MODE", "dev"), "Log encoder: dev or prod")
	fs.StringVar(&cfg.LogLevel, "log_level", envOrDefaultFn("LOG_LEVEL", "info"), "Log level")

	fs.StringVar(&cfg.MetricsBackend, "metrics_backend", envOrDefaultFn("METRICS_BACKEND", "pushgateway"), "Metrics backend: pushgateway, datadog or none")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway", getenv("PUSHGATEWAY_URL"), "Prometheus Pushgateway URL; empty disables the pushgateway backend")
	fs.StringVar(&cfg.StatsdAddr, "statsd_addr", getenv("DD_DOGSTATSD_URL"), "DogStatsD address for the datadog backend")
	fs.StringVar(&cfg.MetricsJob, "metrics_job", envOrDefaultFn("METRICS_JOB", "labmigrate"), "Pushgateway job name / DogStatsD namespace")

	if args == nil {
		args = []string{}
	}
	_ = fs.Parse(args)
	return cfg
}

// LoadFrom is LoadFromArgs without extra args.
func LoadFrom(fs *flag.FlagSet, getenv func(string) string) *Config {
	return LoadFromArgs(fs, getenv, nil)
}

// Load is the production entry point: flag.CommandLine, os.Getenv and
// os.Args[1:].
func Load() *Config {
	return LoadFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// PostgresDSN returns DSN, or builds one from the discrete parts.
func (c *Config) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   "/" + c.DBName,
	}
	return u.String()
}

// Comma returns the single-job delimiter byte, defaulting to ','.
func (c *Config) Comma() byte {
	return comma(c.Delimiter)
}

func comma(s string) byte {
	switch s {
	case "", ",":
		return ','
	case `\t`, "tab":
		return '\t'
	default:
		return s[0]
	}
}

func parseBool(v string, d bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}
