package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"labmigrate/internal/domain"
)

// Dialect describes one database/sql engine.
type Dialect struct {
	Name   string
	Driver string

	// Placeholder renders the i-th (1-based) bind parameter.
	Placeholder func(i int) string

	// Schema is executed statement by statement by EnsureSchema.
	Schema []string

	// MaxOpenConns caps the pool; 0 leaves the driver default.
	MaxOpenConns int

	enc valueEncoder
}

// SQLite is used for local dry runs against a file or :memory:. The pool is
// pinned to one connection so :memory: databases survive between calls.
var SQLite = Dialect{
	Name:         "sqlite",
	Driver:       "sqlite",
	Placeholder:  func(int) string { return "?" },
	MaxOpenConns: 1,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS muestreos (
			id TEXT PRIMARY KEY,
			manual_reference TEXT NOT NULL,
			planta TEXT NOT NULL,
			fecha_muestreo TEXT NOT NULL,
			fecha_muestreo_ts TEXT NOT NULL,
			hora_muestreo TEXT,
			revenimiento_sitio REAL,
			masa_unitaria REAL,
			temperatura_ambiente REAL,
			temperatura_concreto REAL,
			sampling_type TEXT NOT NULL,
			sync_status TEXT NOT NULL,
			plant_id TEXT NOT NULL,
			event_timezone TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS muestras (
			id TEXT PRIMARY KEY,
			muestreo_id TEXT NOT NULL REFERENCES muestreos(id),
			identificacion TEXT NOT NULL,
			tipo_muestra TEXT NOT NULL,
			fecha_programada_ensayo TEXT NOT NULL,
			fecha_programada_ensayo_ts TEXT NOT NULL,
			estado TEXT NOT NULL,
			plant_id TEXT NOT NULL,
			event_timezone TEXT NOT NULL,
			cube_side_cm REAL,
			diameter_cm REAL,
			beam_width_cm REAL,
			beam_height_cm REAL,
			beam_span_cm REAL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ensayos (
			id TEXT PRIMARY KEY,
			muestra_id TEXT NOT NULL REFERENCES muestras(id),
			fecha_ensayo TEXT NOT NULL,
			fecha_ensayo_ts TEXT NOT NULL,
			carga_kg REAL NOT NULL,
			plant_id TEXT NOT NULL,
			event_timezone TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	enc: textEncoder{},
}

// MSSQL targets SQL Server through microsoft/go-mssqldb.
var MSSQL = Dialect{
	Name:        "mssql",
	Driver:      "sqlserver",
	Placeholder: func(i int) string { return fmt.Sprintf("@p%d", i) },
	Schema: []string{
		`IF OBJECT_ID(N'muestreos', N'U') IS NULL
		CREATE TABLE muestreos (
			id UNIQUEIDENTIFIER PRIMARY KEY,
			manual_reference NVARCHAR(100) NOT NULL,
			planta NVARCHAR(20) NOT NULL,
			fecha_muestreo DATE NOT NULL,
			fecha_muestreo_ts DATETIME2 NOT NULL,
			hora_muestreo TIME,
			revenimiento_sitio FLOAT,
			masa_unitaria FLOAT,
			temperatura_ambiente FLOAT,
			temperatura_concreto FLOAT,
			sampling_type NVARCHAR(32) NOT NULL,
			sync_status NVARCHAR(32) NOT NULL,
			plant_id UNIQUEIDENTIFIER NOT NULL,
			event_timezone NVARCHAR(64) NOT NULL,
			created_at DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()
		)`,
		`IF OBJECT_ID(N'muestras', N'U') IS NULL
		CREATE TABLE muestras (
			id UNIQUEIDENTIFIER PRIMARY KEY,
			muestreo_id UNIQUEIDENTIFIER NOT NULL REFERENCES muestreos(id),
			identificacion NVARCHAR(8) NOT NULL,
			tipo_muestra NVARCHAR(16) NOT NULL,
			fecha_programada_ensayo DATE NOT NULL,
			fecha_programada_ensayo_ts DATETIME2 NOT NULL,
			estado NVARCHAR(16) NOT NULL,
			plant_id UNIQUEIDENTIFIER NOT NULL,
			event_timezone NVARCHAR(64) NOT NULL,
			cube_side_cm FLOAT,
			diameter_cm FLOAT,
			beam_width_cm FLOAT,
			beam_height_cm FLOAT,
			beam_span_cm FLOAT,
			created_at DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()
		)`,
		`IF OBJECT_ID(N'ensayos', N'U') IS NULL
		CREATE TABLE ensayos (
			id UNIQUEIDENTIFIER PRIMARY KEY,
			muestra_id UNIQUEIDENTIFIER NOT NULL REFERENCES muestras(id),
			fecha_ensayo DATE NOT NULL,
			fecha_ensayo_ts DATETIME2 NOT NULL,
			carga_kg FLOAT NOT NULL,
			plant_id UNIQUEIDENTIFIER NOT NULL,
			event_timezone NVARCHAR(64) NOT NULL,
			created_at DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()
		)`,
	},
	enc: varcharEncoder{},
}

// MySQL targets MySQL/MariaDB through go-sql-driver/mysql. Values travel as
// text; the server converts them to the column types.
var MySQL = Dialect{
	Name:        "mysql",
	Driver:      "mysql",
	Placeholder: func(int) string { return "?" },
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS muestreos (
			id CHAR(36) PRIMARY KEY,
			manual_reference VARCHAR(100) NOT NULL,
			planta VARCHAR(20) NOT NULL,
			fecha_muestreo DATE NOT NULL,
			fecha_muestreo_ts DATETIME NOT NULL,
			hora_muestreo TIME NULL,
			revenimiento_sitio DOUBLE NULL,
			masa_unitaria DOUBLE NULL,
			temperatura_ambiente DOUBLE NULL,
			temperatura_concreto DOUBLE NULL,
			sampling_type VARCHAR(32) NOT NULL,
			sync_status VARCHAR(32) NOT NULL,
			plant_id CHAR(36) NOT NULL,
			event_timezone VARCHAR(64) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS muestras (
			id CHAR(36) PRIMARY KEY,
			muestreo_id CHAR(36) NOT NULL,
			identificacion VARCHAR(8) NOT NULL,
			tipo_muestra VARCHAR(16) NOT NULL,
			fecha_programada_ensayo DATE NOT NULL,
			fecha_programada_ensayo_ts DATETIME NOT NULL,
			estado VARCHAR(16) NOT NULL,
			plant_id CHAR(36) NOT NULL,
			event_timezone VARCHAR(64) NOT NULL,
			cube_side_cm DOUBLE NULL,
			diameter_cm DOUBLE NULL,
			beam_width_cm DOUBLE NULL,
			beam_height_cm DOUBLE NULL,
			beam_span_cm DOUBLE NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (muestreo_id) REFERENCES muestreos(id)
		) CHARACTER SET utf8mb4`,
		`CREATE TABLE IF NOT EXISTS ensayos (
			id CHAR(36) PRIMARY KEY,
			muestra_id CHAR(36) NOT NULL,
			fecha_ensayo DATE NOT NULL,
			fecha_ensayo_ts DATETIME NOT NULL,
			carga_kg DOUBLE NOT NULL,
			plant_id CHAR(36) NOT NULL,
			event_timezone VARCHAR(64) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (muestra_id) REFERENCES muestras(id)
		) CHARACTER SET utf8mb4`,
	},
	enc: textEncoder{},
}

// InsertSQL builds the prepared INSERT for table.
func (d Dialect) InsertSQL(table string, columns []string) string {
	ph := make([]string, len(columns))
	for i := range columns {
		ph[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ","), strings.Join(ph, ","))
}

// SQL is the database/sql adapter.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	newID   func() uuid.UUID
}

// NewSQL opens the dialect's driver and pings it.
func NewSQL(ctx context.Context, d Dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if d.MaxOpenConns > 0 {
		db.SetMaxOpenConns(d.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQL{db: db, dialect: d, newID: uuid.New}, nil
}

// EnsureSchema runs the dialect's DDL.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, q := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// WriteEvents inserts the batch row by row through one prepared statement
// per table, inside a single transaction.
func (s *SQL) WriteEvents(ctx context.Context, events []domain.SamplingEvent) (Counts, error) {
	if len(events) == 0 {
		return Counts{}, nil
	}
	rows, err := buildRows(events, s.newID, s.dialect.enc)
	if err != nil {
		return Counts{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Counts{}, err
	}
	defer tx.Rollback()

	for _, step := range []struct {
		table string
		cols  []string
		rows  [][]any
	}{
		{TableMuestreos, muestreoColumns, rows.muestreos},
		{TableMuestras, muestraColumns, rows.muestras},
		{TableEnsayos, ensayoColumns, rows.ensayos},
	} {
		if err := s.insertAll(ctx, tx, step.table, step.cols, step.rows); err != nil {
			return Counts{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Counts{}, err
	}
	return rows.counts(), nil
}

func (s *SQL) insertAll(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.dialect.InsertSQL(table, cols))
	if err != nil {
		return fmt.Errorf("prepare %s: %w", table, err)
	}
	defer stmt.Close()
	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", table, i+1, err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *SQL) Close(context.Context) error { return s.db.Close() }

// textEncoder stores everything as text in the event's wall clock.
type textEncoder struct{}

func (textEncoder) id(u uuid.UUID) any   { return u.String() }
func (textEncoder) text(s string) any    { return s }
func (textEncoder) date(t time.Time) any { return t.Format(domain.DateLayout) }

func (textEncoder) timestamp(wall time.Time, _ *time.Location) any {
	return wall.Format(domain.TimestampLayout)
}

func (textEncoder) clock(t *domain.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return t.String()
}

// varcharEncoder sends typed values as VARCHAR literals for SQL Server to
// convert; free text keeps the driver's NVARCHAR default.
type varcharEncoder struct{}

func (varcharEncoder) id(u uuid.UUID) any { return mssql.VarChar(u.String()) }
func (varcharEncoder) text(s string) any  { return s }

func (varcharEncoder) date(t time.Time) any {
	return mssql.VarChar(t.Format(domain.DateLayout))
}

func (varcharEncoder) timestamp(wall time.Time, _ *time.Location) any {
	return mssql.VarChar(wall.Format(domain.TimestampLayout))
}

func (varcharEncoder) clock(t *domain.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return mssql.VarChar(t.String())
}
