package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"labmigrate/internal/domain"
)

// pgConnLike is the subset of *pgx.Conn the adapter uses, so tests can inject
// a fake connection.
type pgConnLike interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Postgres writes batches with COPY FROM inside a transaction.
type Postgres struct {
	conn  pgConnLike
	newID func() uuid.UUID
}

// NewPostgres connects with pgx.Connect. Callers close it with Close.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return newPostgresFromConn(c), nil
}

func newPostgresFromConn(c pgConnLike) *Postgres {
	return &Postgres{conn: c, newID: uuid.New}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS muestreos (
	id uuid PRIMARY KEY,
	manual_reference text NOT NULL,
	planta text NOT NULL,
	fecha_muestreo date NOT NULL,
	fecha_muestreo_ts timestamptz NOT NULL,
	hora_muestreo time,
	revenimiento_sitio numeric,
	masa_unitaria numeric,
	temperatura_ambiente numeric,
	temperatura_concreto numeric,
	sampling_type text NOT NULL,
	sync_status text NOT NULL,
	plant_id uuid NOT NULL,
	event_timezone text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS muestras (
	id uuid PRIMARY KEY,
	muestreo_id uuid NOT NULL REFERENCES muestreos(id),
	identificacion text NOT NULL,
	tipo_muestra text NOT NULL,
	fecha_programada_ensayo date NOT NULL,
	fecha_programada_ensayo_ts timestamptz NOT NULL,
	estado text NOT NULL,
	plant_id uuid NOT NULL,
	event_timezone text NOT NULL,
	cube_side_cm numeric,
	diameter_cm numeric,
	beam_width_cm numeric,
	beam_height_cm numeric,
	beam_span_cm numeric,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ensayos (
	id uuid PRIMARY KEY,
	muestra_id uuid NOT NULL REFERENCES muestras(id),
	fecha_ensayo date NOT NULL,
	fecha_ensayo_ts timestamptz NOT NULL,
	carga_kg numeric NOT NULL,
	plant_id uuid NOT NULL,
	event_timezone text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// EnsureSchema creates the three tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.conn.Exec(ctx, pgSchema)
	return err
}

// WriteEvents copies the batch parent tables first. Any failure rolls the
// whole batch back.
func (p *Postgres) WriteEvents(ctx context.Context, events []domain.SamplingEvent) (Counts, error) {
	if len(events) == 0 {
		return Counts{}, nil
	}
	rows, err := buildRows(events, p.newID, pgEncoder{})
	if err != nil {
		return Counts{}, err
	}

	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return Counts{}, err
	}
	defer tx.Rollback(ctx)

	for _, step := range []struct {
		table string
		cols  []string
		rows  [][]any
	}{
		{TableMuestreos, muestreoColumns, rows.muestreos},
		{TableMuestras, muestraColumns, rows.muestras},
		{TableEnsayos, ensayoColumns, rows.ensayos},
	} {
		if len(step.rows) == 0 {
			continue
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{step.table}, step.cols, pgx.CopyFromRows(step.rows))
		if err != nil {
			return Counts{}, fmt.Errorf("copy %s: %w", step.table, err)
		}
		if n != int64(len(step.rows)) {
			return Counts{}, fmt.Errorf("copy %s: inserted %d of %d rows", step.table, n, len(step.rows))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Counts{}, err
	}
	return rows.counts(), nil
}

// Close closes the underlying connection.
func (p *Postgres) Close(ctx context.Context) error { return p.conn.Close(ctx) }

// pgEncoder produces values pgx can encode in binary COPY.
type pgEncoder struct{}

func (pgEncoder) id(u uuid.UUID) any { return pgtype.UUID{Bytes: u, Valid: true} }

func (pgEncoder) text(s string) any { return s }

func (pgEncoder) date(t time.Time) any {
	y, m, d := t.Date()
	return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

func (pgEncoder) timestamp(wall time.Time, loc *time.Location) any {
	return inLocation(wall, loc)
}

func (pgEncoder) clock(t *domain.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return pgtype.Time{Microseconds: int64(t.Seconds()) * int64(time.Second/time.Microsecond), Valid: true}
}
