// Package importer runs migration jobs: one plant export streamed through
// its source layout, the specimen scheduler and the store.
//
// Each job is sequential so events keep their input order; RunAll runs
// several jobs at once, bounded by the worker count. Data problems never
// fail a job. They are written to the job's skip log and counted in its
// Summary. Only I/O, configuration and store errors are returned.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"labmigrate/internal/config"
	"labmigrate/internal/domain"
	"labmigrate/internal/logging"
	"labmigrate/internal/metrics"
	"labmigrate/internal/schedule"
	"labmigrate/internal/skiplog"
	"labmigrate/internal/source"
	"labmigrate/internal/store"
)

// ReasonDuplicate tags a (reference, date) pair already seen in the job.
const ReasonDuplicate = "duplicate_event"

const defaultBatchSize = 500

// Settings are the run-wide knobs shared by every job.
type Settings struct {
	Timezone         string
	LabTestTime      domain.TimeOfDay
	TwoDigitYearBase int

	BatchSize   int
	SampleLimit int
	// SkippedDir receives skipped_<job>.csv; empty keeps counts only.
	SkippedDir string
}

// Deps are the collaborators of a run.
type Deps struct {
	Sites  schedule.SiteDirectory
	Stores store.Factory
	Log    *logging.Logger
	// Open defaults to a plain read-only open with readahead hints.
	Open func(path string) (io.ReadCloser, error)
}

func (d Deps) open(path string) (io.ReadCloser, error) {
	if d.Open != nil {
		return d.Open(path)
	}
	return openCSV(path)
}

// Summary reports one job.
type Summary struct {
	Job    string
	Layout string
	Site   string

	Rows       int // data rows read
	Accepted   int // rows that produced an event
	Dropped    int // rows whose event was rejected
	Duplicates int
	Ragged     int
	Blank      int

	Written store.Counts
	Batches int

	Issues   int
	Reasons  map[string]int
	Sample   []string
	SkipFile string

	Duration time.Duration
}

// String renders a one-paragraph report.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, site %s): rows=%d accepted=%d dropped=%d duplicates=%d\n",
		s.Job, s.Layout, s.Site, s.Rows, s.Accepted, s.Dropped, s.Duplicates)
	fmt.Fprintf(&b, "  written: muestreos=%d muestras=%d ensayos=%d in %d batches (%s)\n",
		s.Written.Events, s.Written.Specimens, s.Written.Tests, s.Batches, s.Duration.Truncate(time.Millisecond))
	if s.Issues > 0 {
		reasons := make([]string, 0, len(s.Reasons))
		for r := range s.Reasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		parts := make([]string, len(reasons))
		for i, r := range reasons {
			parts[i] = fmt.Sprintf("%s=%d", r, s.Reasons[r])
		}
		fmt.Fprintf(&b, "  issues: %d (%s)", s.Issues, strings.Join(parts, " "))
		if s.SkipFile != "" {
			fmt.Fprintf(&b, " -> %s", s.SkipFile)
		}
		b.WriteString("\n")
		for _, m := range s.Sample {
			fmt.Fprintf(&b, "    %s\n", m)
		}
	}
	return b.String()
}

// Run migrates one job.
func Run(ctx context.Context, job config.Job, set Settings, deps Deps) (sum Summary, err error) {
	start := time.Now()
	sum = Summary{Job: job.Name, Layout: job.Layout, Site: job.Site}
	log := deps.Log
	if log == nil {
		log = logging.Nop()
	}
	log = log.With("job", job.Name, "layout", job.Layout, "site", job.Site)
	defer func() {
		sum.Duration = time.Since(start)
		metrics.RecordStep(job.Name, "import", err, sum.Duration)
	}()

	layout, err := source.Lookup(job.Layout)
	if err != nil {
		return sum, err
	}
	sched, err := schedule.New(layout.Options(job.Site, set.Timezone, set.LabTestTime, set.TwoDigitYearBase), deps.Sites)
	if err != nil {
		return sum, err
	}

	f, err := deps.open(job.CSV)
	if err != nil {
		return sum, fmt.Errorf("%s: open csv: %w", job.Name, err)
	}
	defer f.Close()

	dec, err := source.NewDecoder(f, layout, source.DecoderOptions{Encoding: job.Encoding, Comma: job.Comma()})
	if err != nil {
		return sum, fmt.Errorf("%s: %w", job.Name, err)
	}

	skips := skiplog.Discard(set.SampleLimit)
	if set.SkippedDir != "" {
		sum.SkipFile = filepath.Join(set.SkippedDir, "skipped_"+job.Name+".csv")
		if skips, err = skiplog.Open(sum.SkipFile, set.SampleLimit); err != nil {
			return sum, err
		}
	}
	defer func() {
		if cerr := skips.Close(); cerr != nil && err == nil {
			err = cerr
		}
		sum.Issues = skips.Total()
		sum.Reasons = skips.Counts()
		sum.Sample = skips.Sample()
	}()

	st, err := deps.Stores(ctx)
	if err != nil {
		return sum, fmt.Errorf("%s: open store: %w", job.Name, err)
	}
	defer st.Close(ctx)

	batchSize := set.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batch := make([]domain.SamplingEvent, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		c, err := st.WriteEvents(ctx, batch)
		if err != nil {
			return fmt.Errorf("%s: write batch ending at event %d: %w", job.Name, sum.Accepted, err)
		}
		sum.Written.Add(c)
		sum.Batches++
		metrics.RecordBatches(job.Name, 1)
		log.Debug("batch committed", "events", c.Events, "specimens", c.Specimens, "tests", c.Tests)
		batch = batch[:0]
		return nil
	}

	add := func(e skiplog.Entry) {
		skips.Add(e)
		metrics.RecordIssue(job.Name, e.Reason)
	}

	seen := map[string]int{}
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}
		sum.Rows++

		res, err := sched.Schedule(rec.Input)
		if err != nil {
			sum.Dropped++
			add(skiplog.Entry{
				Reason:    schedule.Reason(err),
				Line:      rec.Line,
				Reference: strings.TrimSpace(rec.Input.Reference),
				Detail:    err.Error(),
				Raw:       rec.Raw,
			})
			continue
		}
		sum.Accepted++
		ev := res.Event
		for _, is := range res.Issues {
			add(skiplog.Entry{
				Reason:    is.Reason(),
				Line:      rec.Line,
				Reference: is.Reference,
				Slot:      is.Slot,
				Field:     is.Field,
				Detail:    is.Detail,
				Raw:       rec.Raw,
			})
		}

		key := ev.Reference + "|" + ev.SampledOn.Format(domain.DateLayout)
		if first, dup := seen[key]; dup {
			sum.Duplicates++
			log.Warn("duplicate sampling event", "remision", ev.Reference, "date", ev.SampledOn.Format(domain.DateLayout), "line", rec.Line, "first_line", first)
			add(skiplog.Entry{
				Reason:    ReasonDuplicate,
				Line:      rec.Line,
				Reference: ev.Reference,
				Detail:    fmt.Sprintf("same remision and date as line %d; both kept", first),
				Raw:       rec.Raw,
			})
		} else {
			seen[key] = rec.Line
		}

		batch = append(batch, ev)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return sum, err
			}
		}
	}
	if err := flush(); err != nil {
		return sum, err
	}

	sum.Ragged = dec.Ragged()
	sum.Blank = dec.Blank()
	metrics.RecordRow(job.Name, "rows", int64(sum.Rows))
	metrics.RecordRow(job.Name, "events", int64(sum.Written.Events))
	metrics.RecordRow(job.Name, "specimens", int64(sum.Written.Specimens))
	metrics.RecordRow(job.Name, "tests", int64(sum.Written.Tests))
	metrics.RecordRow(job.Name, "dropped", int64(sum.Dropped))

	log.Info("job finished",
		"rows", sum.Rows, "accepted", sum.Accepted, "dropped", sum.Dropped,
		"muestreos", sum.Written.Events, "muestras", sum.Written.Specimens, "ensayos", sum.Written.Tests,
		"ragged", sum.Ragged, "blank", sum.Blank, "duration", time.Since(start).Truncate(time.Millisecond))
	return sum, nil
}

// RunAll runs jobs with at most workers in flight. Summaries come back in
// job order. The first fatal error cancels the jobs still running.
func RunAll(ctx context.Context, jobs []config.Job, set Settings, deps Deps, workers int) ([]Summary, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([]Summary, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			sum, err := Run(gctx, job, set, deps)
			out[i] = sum
			if err != nil {
				return fmt.Errorf("job %s: %w", job.Name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return out, err
}
