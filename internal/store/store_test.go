package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"labmigrate/internal/domain"
)

const plantP1 = "4cc02bc8-990a-4bde-96f2-7a1f5af4d4ad"

// seqIDs returns a deterministic id source: ...0001, ...0002 and so on.
func seqIDs() func() uuid.UUID {
	var n byte
	return func() uuid.UUID {
		n++
		var u uuid.UUID
		u[15] = n
		return u
	}
}

func wall(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

// sampleEvent is a P1-style event: a tested cube in M1 and a pending beam in M2.
func sampleEvent(ref string) domain.SamplingEvent {
	eight := domain.TimeOfDay{Hour: 8}
	slump, side := 12.0, 10.0
	return domain.SamplingEvent{
		Reference:    ref,
		SiteCode:     "P1",
		PlantID:      plantP1,
		SampledOn:    wall(2024, time.March, 15, 0),
		SampledAt:    wall(2024, time.March, 15, 8),
		SamplingTime: &eight,
		Slump:        &slump,
		AgeUnit:      domain.Days,
		Timezone:     "America/Mexico_City",
		Specimens: []domain.Specimen{
			{
				Slot: 1, Label: "M1", Shape: domain.Cube, ShapeText: "CUBO 10 X 10",
				Dimensions:  domain.Dimensions{CubeSideCm: &side},
				ScheduledAt: wall(2024, time.March, 22, 8), State: domain.Tested,
			},
			{
				Slot: 2, Label: "M2", Shape: domain.Beam, ShapeText: "VIGA",
				ScheduledAt: wall(2024, time.April, 12, 8), State: domain.Pending,
			},
		},
		Tests: []domain.TestResult{
			{Slot: 1, Label: "M1", LoadKg: 25000, TestedAt: wall(2024, time.March, 22, 8)},
		},
	}
}

func TestBuildRows_LinksChildren(t *testing.T) {
	t.Parallel()

	rows, err := buildRows([]domain.SamplingEvent{sampleEvent("R-1")}, seqIDs(), textEncoder{})
	if err != nil {
		t.Fatalf("buildRows: %v", err)
	}
	if got := rows.counts(); got != (Counts{Events: 1, Specimens: 2, Tests: 1}) {
		t.Fatalf("counts = %+v", got)
	}

	ev := rows.muestreos[0]
	if len(ev) != len(muestreoColumns) {
		t.Fatalf("muestreo row has %d values for %d columns", len(ev), len(muestreoColumns))
	}
	eventID := "00000000-0000-0000-0000-000000000001"
	if ev[0] != eventID || ev[1] != "R-1" || ev[2] != "P1" {
		t.Fatalf("muestreo head = %v", ev[:3])
	}
	if ev[3] != "2024-03-15" || ev[4] != "2024-03-15 08:00:00" || ev[5] != "08:00:00" {
		t.Fatalf("muestreo dates = %v", ev[3:6])
	}
	if ev[6] != 12.0 || ev[7] != nil {
		t.Fatalf("numeric fields = %v, %v", ev[6], ev[7])
	}
	if ev[10] != SamplingType || ev[11] != SyncStatus || ev[12] != plantP1 {
		t.Fatalf("constants = %v", ev[10:13])
	}

	m1, m2 := rows.muestras[0], rows.muestras[1]
	if len(m1) != len(muestraColumns) {
		t.Fatalf("muestra row has %d values for %d columns", len(m1), len(muestraColumns))
	}
	if m1[1] != eventID || m2[1] != eventID {
		t.Fatalf("muestras must reference the muestreo: %v %v", m1[1], m2[1])
	}
	if m1[2] != "M1" || m1[3] != "CUBO" || m1[6] != "ENSAYADO" || m1[9] != 10.0 {
		t.Fatalf("M1 = %v", m1)
	}
	if m2[4] != "2024-04-12" || m2[6] != "PENDIENTE" || m2[9] != nil {
		t.Fatalf("M2 = %v", m2)
	}

	e := rows.ensayos[0]
	if len(e) != len(ensayoColumns) {
		t.Fatalf("ensayo row has %d values for %d columns", len(e), len(ensayoColumns))
	}
	if e[1] != m1[0] || e[2] != "2024-03-22" || e[4] != 25000.0 {
		t.Fatalf("ensayo = %v", e)
	}
}

func TestBuildRows_Errors(t *testing.T) {
	t.Parallel()

	orphan := sampleEvent("R-2")
	orphan.Tests[0].Slot = 4
	if _, err := buildRows([]domain.SamplingEvent{orphan}, seqIDs(), textEncoder{}); err == nil || !strings.Contains(err.Error(), "no specimen") {
		t.Fatalf("orphan test err = %v", err)
	}

	badPlant := sampleEvent("R-3")
	badPlant.PlantID = "P1"
	if _, err := buildRows([]domain.SamplingEvent{badPlant}, seqIDs(), textEncoder{}); err == nil {
		t.Fatalf("expected plant id error")
	}

	badZone := sampleEvent("R-4")
	badZone.Timezone = "Mars/Olympus"
	if _, err := buildRows([]domain.SamplingEvent{badZone}, seqIDs(), textEncoder{}); err == nil {
		t.Fatalf("expected timezone error")
	}
}

func TestPgEncoder(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Fatal(err)
	}
	enc := pgEncoder{}

	ts := enc.timestamp(wall(2024, time.March, 15, 8), loc).(time.Time)
	if !ts.UTC().Equal(wall(2024, time.March, 15, 14)) {
		t.Fatalf("08:00 in Mexico City = %v UTC, want 14:00", ts.UTC())
	}
	d := enc.date(wall(2024, time.March, 15, 8)).(pgtype.Date)
	if !d.Valid || d.Time.Hour() != 0 || d.Time.Day() != 15 {
		t.Fatalf("date = %+v", d)
	}
	c := enc.clock(&domain.TimeOfDay{Hour: 12, Minute: 40}).(pgtype.Time)
	if c.Microseconds != (12*3600+40*60)*1_000_000 {
		t.Fatalf("clock = %d µs", c.Microseconds)
	}
	if enc.clock(nil) != nil {
		t.Fatalf("nil clock must encode NULL")
	}
	u := uuid.MustParse(plantP1)
	if id := enc.id(u).(pgtype.UUID); !id.Valid || id.Bytes != u {
		t.Fatalf("id = %+v", id)
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	var s Store = Discard{}
	c, err := s.WriteEvents(context.Background(), []domain.SamplingEvent{sampleEvent("a"), sampleEvent("b")})
	if err != nil || c != (Counts{Events: 2, Specimens: 4, Tests: 2}) {
		t.Fatalf("Discard = %+v, %v", c, err)
	}
	var total Counts
	total.Add(c)
	total.Add(c)
	if total.Tests != 4 {
		t.Fatalf("Add: %+v", total)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), "oracle", ""); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
	s, err := Open(context.Background(), "none", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(Discard); !ok {
		t.Fatalf("none = %T, want Discard", s)
	}
}
