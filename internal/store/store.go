// Package store writes scheduled sampling events to the lab schema:
// muestreos, muestras and ensayos. Row ids are generated client side so a
// whole batch can be sent in bulk and children reference their parent
// without a round trip.
//
// Two adapters exist:
//   - Postgres via pgx, using COPY inside one transaction per batch.
//   - database/sql dialects (SQLite, MySQL, SQL Server) using prepared INSERTs.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"labmigrate/internal/domain"
)

// Target tables.
const (
	TableMuestreos = "muestreos"
	TableMuestras  = "muestras"
	TableEnsayos   = "ensayos"
)

// Constant muestreo attributes of migrated history.
const (
	SamplingType = "REMISION_LINKED"
	SyncStatus   = "SYNCED"
)

var (
	muestreoColumns = []string{
		"id", "manual_reference", "planta", "fecha_muestreo", "fecha_muestreo_ts", "hora_muestreo",
		"revenimiento_sitio", "masa_unitaria", "temperatura_ambiente", "temperatura_concreto",
		"sampling_type", "sync_status", "plant_id", "event_timezone",
	}
	muestraColumns = []string{
		"id", "muestreo_id", "identificacion", "tipo_muestra", "fecha_programada_ensayo",
		"fecha_programada_ensayo_ts", "estado", "plant_id", "event_timezone",
		"cube_side_cm", "diameter_cm", "beam_width_cm", "beam_height_cm", "beam_span_cm",
	}
	ensayoColumns = []string{
		"id", "muestra_id", "fecha_ensayo", "fecha_ensayo_ts", "carga_kg", "plant_id", "event_timezone",
	}
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown db driver")

// Store persists batches of events.
type Store interface {
	// EnsureSchema creates the target tables when they are missing.
	EnsureSchema(ctx context.Context) error
	// WriteEvents inserts the batch in one transaction.
	WriteEvents(ctx context.Context, events []domain.SamplingEvent) (Counts, error)
	Close(ctx context.Context) error
}

// Factory mints a Store per job.
type Factory func(ctx context.Context) (Store, error)

// Counts are the rows written per table.
type Counts struct {
	Events    int
	Specimens int
	Tests     int
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Events += o.Events
	c.Specimens += o.Specimens
	c.Tests += o.Tests
}

// Open connects to driver (postgres, mysql, mssql, sqlserver, sqlite or none).
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "postgres", "pg", "pgx":
		return NewPostgres(ctx, dsn)
	case "mysql":
		return NewSQL(ctx, MySQL, dsn)
	case "mssql", "sqlserver":
		return NewSQL(ctx, MSSQL, dsn)
	case "sqlite":
		return NewSQL(ctx, SQLite, dsn)
	case "none", "":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Discard counts rows without writing them; used for dry runs.
type Discard struct{}

func (Discard) EnsureSchema(context.Context) error { return nil }
func (Discard) Close(context.Context) error        { return nil }

func (Discard) WriteEvents(_ context.Context, events []domain.SamplingEvent) (Counts, error) {
	var c Counts
	for _, ev := range events {
		c.Events++
		c.Specimens += len(ev.Specimens)
		c.Tests += len(ev.Tests)
	}
	return c, nil
}

// valueEncoder turns domain values into driver arguments.
type valueEncoder interface {
	id(u uuid.UUID) any
	text(s string) any
	date(t time.Time) any
	timestamp(wall time.Time, loc *time.Location) any
	clock(t *domain.TimeOfDay) any
}

// batchRows holds the table rows of one batch in insertion order.
type batchRows struct {
	muestreos [][]any
	muestras  [][]any
	ensayos   [][]any
}

func (b batchRows) counts() Counts {
	return Counts{Events: len(b.muestreos), Specimens: len(b.muestras), Tests: len(b.ensayos)}
}

// buildRows flattens events into rows. Tests are linked to the specimen of
// the same slot; a test without one is an error.
func buildRows(events []domain.SamplingEvent, newID func() uuid.UUID, enc valueEncoder) (batchRows, error) {
	var b batchRows
	locs := map[string]*time.Location{}
	for _, ev := range events {
		loc, ok := locs[ev.Timezone]
		if !ok {
			var err error
			if loc, err = time.LoadLocation(ev.Timezone); err != nil {
				return batchRows{}, fmt.Errorf("remision %s: timezone: %w", ev.Reference, err)
			}
			locs[ev.Timezone] = loc
		}
		plant, err := uuid.Parse(ev.PlantID)
		if err != nil {
			return batchRows{}, fmt.Errorf("remision %s: plant id: %w", ev.Reference, err)
		}

		eventID := newID()
		b.muestreos = append(b.muestreos, []any{
			enc.id(eventID),
			enc.text(ev.Reference),
			enc.text(ev.SiteCode),
			enc.date(ev.SampledOn),
			enc.timestamp(ev.SampledAt, loc),
			enc.clock(ev.SamplingTime),
			nullable(ev.Slump),
			nullable(ev.UnitMass),
			nullable(ev.AmbientTemp),
			nullable(ev.ConcreteTemp),
			enc.text(SamplingType),
			enc.text(SyncStatus),
			enc.id(plant),
			enc.text(ev.Timezone),
		})

		bySlot := make(map[int]uuid.UUID, len(ev.Specimens))
		for _, sp := range ev.Specimens {
			id := newID()
			bySlot[sp.Slot] = id
			b.muestras = append(b.muestras, []any{
				enc.id(id),
				enc.id(eventID),
				enc.text(sp.Label),
				enc.text(string(sp.Shape)),
				enc.date(sp.ScheduledAt),
				enc.timestamp(sp.ScheduledAt, loc),
				enc.text(string(sp.State)),
				enc.id(plant),
				enc.text(ev.Timezone),
				nullable(sp.Dimensions.CubeSideCm),
				nullable(sp.Dimensions.DiameterCm),
				nullable(sp.Dimensions.BeamWidthCm),
				nullable(sp.Dimensions.BeamHeightCm),
				nullable(sp.Dimensions.BeamSpanCm),
			})
		}

		for _, tr := range ev.Tests {
			parent, ok := bySlot[tr.Slot]
			if !ok {
				return batchRows{}, fmt.Errorf("remision %s: test %s has no specimen", ev.Reference, tr.Label)
			}
			b.ensayos = append(b.ensayos, []any{
				enc.id(newID()),
				enc.id(parent),
				enc.date(tr.TestedAt),
				enc.timestamp(tr.TestedAt, loc),
				tr.LoadKg,
				enc.id(plant),
				enc.text(ev.Timezone),
			})
		}
	}
	return b, nil
}

// inLocation reads the wall clock of t as a time in loc.
func inLocation(wall time.Time, loc *time.Location) time.Time {
	y, m, d := wall.Date()
	return time.Date(y, m, d, wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
}

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
