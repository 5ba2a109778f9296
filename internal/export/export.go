// Package export renders stored crossing events into downloadable reports.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/storage"
)

// Format of the rendered report.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
	FormatPDF   Format = "pdf"
)

// Request selects the report window and format. A zero Start/End defaults to
// the last 30 days.
type Request struct {
	Format        Format
	IncludeCharts bool
	Start         time.Time
	End           time.Time
}

// Result is a rendered report ready to serve as an attachment.
type Result struct {
	FileName    string
	ContentType string
	Data        []byte
}

// report is the gathered data all three renderers share.
type report struct {
	start  time.Time
	end    time.Time
	in     int64
	out    int64
	events []models.Event
	hourly [24]int64 // hour-of-day totals over the window
}

type Exporter struct {
	store storage.Store
	loc   *time.Location
	now   func() time.Time
}

func New(store storage.Store, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{store: store, loc: loc, now: time.Now}
}

// Export gathers the window's events and renders them in the requested
// format.
func (e *Exporter) Export(ctx context.Context, req Request) (*Result, error) {
	rep, err := e.gather(ctx, req)
	if err != nil {
		return nil, err
	}

	stamp := fmt.Sprintf("%s_%s_%s",
		rep.start.Format("20060102"), rep.end.Format("20060102"), uuid.NewString()[:8])

	switch req.Format {
	case FormatCSV:
		data, err := renderCSV(rep)
		if err != nil {
			return nil, err
		}
		return &Result{
			FileName:    "people-counter_" + stamp + ".csv",
			ContentType: "text/csv",
			Data:        data,
		}, nil
	case FormatExcel:
		data, err := renderXLSX(rep, req.IncludeCharts)
		if err != nil {
			return nil, err
		}
		return &Result{
			FileName:    "people-counter_" + stamp + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	case FormatPDF:
		data, err := renderPDF(rep, req.IncludeCharts)
		if err != nil {
			return nil, err
		}
		return &Result{
			FileName:    "people-counter_" + stamp + ".pdf",
			ContentType: "application/pdf",
			Data:        data,
		}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", req.Format)
	}
}

func (e *Exporter) gather(ctx context.Context, req Request) (*report, error) {
	end := req.End
	if end.IsZero() {
		end = e.now()
	}
	start := req.Start
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("export range ends before it starts")
	}

	events, err := e.store.EventsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	rep := &report{start: start.In(e.loc), end: end.In(e.loc), events: events}
	for _, ev := range events {
		if ev.Direction == models.DirectionIn {
			rep.in++
		} else {
			rep.out++
		}
		rep.hourly[ev.Timestamp.In(e.loc).Hour()]++
	}
	return rep, nil
}

// renderCSV writes a summary block followed by the raw event rows.
func renderCSV(rep *report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	summary := [][]string{
		{"People Counter Export"},
		{"Period", rep.start.Format("2006-01-02"), rep.end.Format("2006-01-02")},
		{"In", strconv.FormatInt(rep.in, 10)},
		{"Out", strconv.FormatInt(rep.out, 10)},
		{"Net", strconv.FormatInt(rep.in-rep.out, 10)},
		{"Total events", strconv.Itoa(len(rep.events))},
		{},
		{"id", "timestamp", "track_id", "person_id", "direction", "snapshot_key"},
	}
	if err := w.WriteAll(summary); err != nil {
		return nil, fmt.Errorf("write csv summary: %w", err)
	}

	for _, ev := range rep.events {
		row := []string{
			strconv.FormatInt(ev.ID, 10),
			ev.Timestamp.Format(time.RFC3339),
			strconv.FormatInt(ev.TrackID, 10),
			ev.PersonID,
			string(ev.Direction),
			ev.SnapshotKey,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
