package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// renderXLSX builds a workbook with a summary sheet (plus optional hourly
// chart) and a raw events sheet.
func renderXLSX(rep *report, includeCharts bool) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	const eventsSheet = "Events"

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(eventsSheet); err != nil {
		return nil, fmt.Errorf("create events sheet: %w", err)
	}

	summaryRows := [][]any{
		{"People Counter Export"},
		{"Period", rep.start.Format("2006-01-02"), rep.end.Format("2006-01-02")},
		{"In", rep.in},
		{"Out", rep.out},
		{"Net", rep.in - rep.out},
		{"Total events", len(rep.events)},
	}
	for i, row := range summaryRows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write summary row: %w", err)
		}
	}

	// Hourly table feeds the chart and is useful on its own.
	if err := f.SetSheetRow(summarySheet, "E1", &[]any{"Hour", "Events"}); err != nil {
		return nil, fmt.Errorf("write hourly header: %w", err)
	}
	for h := 0; h < 24; h++ {
		cell, _ := excelize.CoordinatesToCellName(5, h+2)
		row := []any{h, rep.hourly[h]}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write hourly row: %w", err)
		}
	}

	if includeCharts {
		err := f.AddChart(summarySheet, "H2", &excelize.Chart{
			Type: excelize.Col,
			Series: []excelize.ChartSeries{{
				Name:       summarySheet + "!$F$1",
				Categories: summarySheet + "!$E$2:$E$25",
				Values:     summarySheet + "!$F$2:$F$25",
			}},
			Title: []excelize.RichTextRun{{Text: "Events by hour of day"}},
		})
		if err != nil {
			return nil, fmt.Errorf("add hourly chart: %w", err)
		}
	}

	header := []any{"ID", "Timestamp", "Track", "Person", "Direction", "Snapshot"}
	if err := f.SetSheetRow(eventsSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write events header: %w", err)
	}
	for i, ev := range rep.events {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{ev.ID, ev.Timestamp.Format(time.RFC3339), ev.TrackID, ev.PersonID, string(ev.Direction), ev.SnapshotKey}
		if err := f.SetSheetRow(eventsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write event row: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
