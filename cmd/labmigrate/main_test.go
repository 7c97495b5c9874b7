package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"labmigrate/internal/config"
	"labmigrate/internal/domain"
	"labmigrate/internal/importer"
	"labmigrate/internal/logging"
	"labmigrate/internal/metrics"
	"labmigrate/internal/store"
)

// fakeStore satisfies store.Store and records calls.
type fakeStore struct {
	schema bool
	closed bool
}

func (f *fakeStore) EnsureSchema(context.Context) error { f.schema = true; return nil }
func (f *fakeStore) Close(context.Context) error        { f.closed = true; return nil }
func (f *fakeStore) WriteEvents(ctx context.Context, evs []domain.SamplingEvent) (store.Counts, error) {
	return store.Discard{}.WriteEvents(ctx, evs)
}

// fakeBackend is a concurrency-safe metrics.Backend.
type fakeBackend struct {
	mu      sync.Mutex
	counter map[string]float64
	flushed bool
}

func (b *fakeBackend) IncCounter(name string, delta float64, _ metrics.Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.counter == nil {
		b.counter = map[string]float64{}
	}
	b.counter[name] += delta
}
func (b *fakeBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeBackend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushed = true
	return nil
}

const plantP2 = "836cbbcf-67b2-4534-97cc-b83e71722ff7"

func testManifest() *config.Manifest {
	return &config.Manifest{
		Sites: config.Sites{"P2": plantP2},
		Jobs:  []config.Job{{Name: "p2", Layout: "p2", Site: "P2", CSV: "p2.csv"}},
	}
}

// testCfg is the baseline most tests tweak.
func testCfg() *config.Config {
	return &config.Config{
		Manifest:   "labmigrate.yaml",
		DBDriver:   "postgres",
		DBUser:     "u",
		DBPassword: "p",
		DBHost:     "h",
		DBPort:     "5432",
		DBName:     "n",
		BatchSize:  100,
		Workers:    2,
	}
}

// testDeps returns fakes for everything; RunAll reports one clean summary.
func testDeps(out *bytes.Buffer) Deps {
	return Deps{
		NewLogger:    func(string, string) (*logging.Logger, error) { return logging.Nop(), nil },
		LoadManifest: func(string) (*config.Manifest, error) { return testManifest(), nil },
		NewMetrics:   func(string, string, string) (metrics.Backend, error) { return nil, errors.New("unexpected") },
		OpenStore: func(context.Context, string, string) (store.Store, error) {
			return &fakeStore{}, nil
		},
		RunAll: func(ctx context.Context, jobs []config.Job, set importer.Settings, d importer.Deps, workers int) ([]importer.Summary, error) {
			out := make([]importer.Summary, len(jobs))
			for i, j := range jobs {
				out[i] = importer.Summary{Job: j.Name, Layout: j.Layout, Site: j.Site}
			}
			return out, nil
		},
		Stdout: out,
	}
}

func TestDefaultDeps_ProvidesNonNilProductionWiring(t *testing.T) {
	d := defaultDeps()
	if d.NewLogger == nil || d.LoadManifest == nil || d.NewMetrics == nil || d.OpenStore == nil || d.RunAll == nil || d.Stdout == nil {
		t.Fatalf("production deps must be non-nil")
	}
}

func TestRun_PostgresBuildsDSNAndPassesSettings(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)

	var gotDSN string
	deps.OpenStore = func(_ context.Context, driver, dsn string) (store.Store, error) {
		if driver != "postgres" {
			t.Fatalf("driver = %q", driver)
		}
		gotDSN = dsn
		return &fakeStore{}, nil
	}
	baseRunAll := deps.RunAll
	deps.RunAll = func(ctx context.Context, jobs []config.Job, set importer.Settings, d importer.Deps, workers int) ([]importer.Summary, error) {
		if workers != 2 || set.BatchSize != 100 || set.Timezone != config.DefaultTimezone {
			t.Fatalf("settings = %+v workers=%d", set, workers)
		}
		if id, ok := d.Sites.PlantID("P2"); !ok || id != plantP2 {
			t.Fatalf("site directory not passed through")
		}
		if _, err := d.Stores(ctx); err != nil {
			t.Fatalf("store factory: %v", err)
		}
		return baseRunAll(ctx, jobs, set, d, workers)
	}

	if err := run(context.Background(), testCfg(), deps); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotDSN != "postgres://u:p@h:5432/n" {
		t.Fatalf("dsn = %q", gotDSN)
	}
	if !strings.Contains(out.String(), "p2 (p2, site P2)") {
		t.Fatalf("summary not printed: %q", out.String())
	}
}

func TestRun_CreateSchema(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)
	fs := &fakeStore{}
	deps.OpenStore = func(context.Context, string, string) (store.Store, error) { return fs, nil }

	cfg := testCfg()
	cfg.CreateSchema = true
	if err := run(context.Background(), cfg, deps); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !fs.schema || !fs.closed {
		t.Fatalf("schema=%v closed=%v", fs.schema, fs.closed)
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	cases := []struct {
		name  string
		tweak func(*config.Config, *Deps)
		want  string
	}{
		{"manifest", func(_ *config.Config, d *Deps) {
			d.LoadManifest = func(string) (*config.Manifest, error) { return nil, os.ErrNotExist }
		}, "manifest"},
		{"mssql needs dsn", func(c *config.Config, _ *Deps) { c.DBDriver = "mssql" }, "-dsn is required"},
		{"mysql needs dsn", func(c *config.Config, _ *Deps) { c.DBDriver = "mysql" }, "db_driver=mysql"},
		{"unknown driver", func(c *config.Config, _ *Deps) { c.DBDriver = "oracle" }, "unknown db driver"},
		{"unknown metrics backend", func(c *config.Config, _ *Deps) { c.MetricsBackend = "graphite" }, "unknown metrics backend"},
		{"unknown site", func(c *config.Config, _ *Deps) {
			c.CSV, c.Layout, c.Site = "x.csv", "p2", "P9"
		}, `site "P9"`},
		{"store open", func(c *config.Config, d *Deps) {
			c.CreateSchema = true
			d.OpenStore = func(context.Context, string, string) (store.Store, error) { return nil, errors.New("refused") }
		}, "refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			cfg, deps := testCfg(), testDeps(&out)
			tc.tweak(cfg, &deps)
			err := run(context.Background(), cfg, deps)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestRun_RunAllErrorStillPrintsSummaries(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)
	deps.RunAll = func(context.Context, []config.Job, importer.Settings, importer.Deps, int) ([]importer.Summary, error) {
		return []importer.Summary{{Job: "p2", Layout: "p2", Site: "P2", Rows: 7}, {}}, errors.New("job p2: disk full")
	}
	err := run(context.Background(), testCfg(), deps)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "rows=7") {
		t.Fatalf("partial summary not printed: %q", out.String())
	}
}

func TestRun_MetricsBackendFlushed(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)
	b := &fakeBackend{}
	deps.NewMetrics = func(backend, job, url string) (metrics.Backend, error) {
		if backend != "pushgateway" || job != "labmigrate" || url != "http://gw:9091" {
			t.Fatalf("backend=%q job=%q url=%q", backend, job, url)
		}
		return b, nil
	}
	cfg := testCfg()
	cfg.MetricsBackend = "pushgateway"
	cfg.PushgatewayURL = "http://gw:9091"
	cfg.MetricsJob = "labmigrate"
	if err := run(context.Background(), cfg, deps); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !b.flushed {
		t.Fatalf("metrics were not flushed")
	}
}

func TestRun_DatadogBackendUsesStatsdAddr(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)
	var gotTarget string
	deps.NewMetrics = func(backend, _, target string) (metrics.Backend, error) {
		if backend != "datadog" {
			t.Fatalf("backend = %q", backend)
		}
		gotTarget = target
		return &fakeBackend{}, nil
	}
	cfg := testCfg()
	cfg.MetricsBackend = "datadog"
	cfg.PushgatewayURL = "http://gw:9091"
	cfg.StatsdAddr = "127.0.0.1:8125"
	if err := run(context.Background(), cfg, deps); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotTarget != "127.0.0.1:8125" {
		t.Fatalf("target = %q", gotTarget)
	}
}

func TestNewMetrics(t *testing.T) {
	if _, err := newMetrics("pushgateway", "labmigrate", "http://gw:9091"); err != nil {
		t.Fatalf("pushgateway: %v", err)
	}
	b, err := newMetrics("datadog", "labmigrate", "127.0.0.1:8125")
	if err != nil {
		t.Fatalf("datadog: %v", err)
	}
	_ = b.Flush()
	if _, err := newMetrics("graphite", "labmigrate", "x"); err == nil {
		t.Fatalf("want error for unknown backend")
	}
}

// TestRun_SQLiteEndToEnd runs the real importer into a SQLite file.
func TestRun_SQLiteEndToEnd(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "p2.csv")
	data := "Número de remisión,Fecha muestreo,Hora de Muestreo,EDAD 1,EDAD 2,CARGA 1 (KG),CARGA 2 (KG)\n" +
		"9001,45658,0.527777778,12,24,18000,\n" +
		"9002,45659,,7,28,,\n" +
		"9003,not-a-date,,7,,,\n"
	if err := os.WriteFile(csvPath, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(dir, "dry.db")

	var out bytes.Buffer
	deps := defaultDeps()
	deps.Stdout = &out
	deps.NewLogger = func(string, string) (*logging.Logger, error) { return logging.Nop(), nil }
	deps.LoadManifest = func(string) (*config.Manifest, error) {
		return &config.Manifest{Sites: config.Sites{"P2": plantP2}}, nil
	}

	cfg := testCfg()
	cfg.DBDriver = "sqlite"
	cfg.DSN = dbPath
	cfg.CreateSchema = true
	cfg.Layout, cfg.Site, cfg.CSV = "p2", "P2", csvPath
	cfg.SkippedDir = filepath.Join(dir, "skipped")
	cfg.SampleLimit = 5

	if err := run(context.Background(), cfg, deps); err != nil {
		t.Fatalf("run: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var events, specimens, tests int
	if err := db.QueryRow(`SELECT (SELECT COUNT(*) FROM muestreos), (SELECT COUNT(*) FROM muestras), (SELECT COUNT(*) FROM ensayos)`).Scan(&events, &specimens, &tests); err != nil {
		t.Fatal(err)
	}
	if events != 2 || specimens != 4 || tests != 1 {
		t.Fatalf("rows: muestreos=%d muestras=%d ensayos=%d", events, specimens, tests)
	}
	var ts string
	if err := db.QueryRow(`SELECT fecha_programada_ensayo_ts FROM muestras WHERE identificacion = 'M1' AND estado = 'ENSAYADO'`).Scan(&ts); err != nil {
		t.Fatal(err)
	}
	if ts != "2025-01-02 00:40:00" {
		t.Fatalf("12h specimen scheduled at %s, want 2025-01-02 00:40:00", ts)
	}
	if !strings.Contains(out.String(), "invalid_date=1") {
		t.Fatalf("summary = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "skipped", "skipped_p2.csv")); err != nil {
		t.Fatalf("skip file: %v", err)
	}
}
