package export

import (
	"bytes"
	"fmt"

	"codeberg.org/go-pdf/fpdf"
)

// renderPDF builds a one-page summary report, optionally with a simple
// hourly bar chart drawn from rectangles.
func renderPDF(rep *report, includeCharts bool) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "People Counter Export", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Period: %s - %s",
		rep.start.Format("2006-01-02"), rep.end.Format("2006-01-02")), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	rows := [][2]string{
		{"In", fmt.Sprintf("%d", rep.in)},
		{"Out", fmt.Sprintf("%d", rep.out)},
		{"Net flow", fmt.Sprintf("%d", rep.in-rep.out)},
		{"Total events", fmt.Sprintf("%d", len(rep.events))},
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(60, 8, "Metric", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, "Value", "1", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, row := range rows {
		pdf.CellFormat(60, 8, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 8, row[1], "1", 1, "R", false, 0, "")
	}

	if includeCharts {
		drawHourlyChart(pdf, rep)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("serialize pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func drawHourlyChart(pdf *fpdf.Fpdf, rep *report) {
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Events by hour of day", "", 1, "L", false, 0, "")

	var max int64 = 1
	for _, v := range rep.hourly {
		if v > max {
			max = v
		}
	}

	const (
		chartHeight = 50.0
		barWidth    = 6.5
		gap         = 1.0
	)
	originX := pdf.GetX() + 10
	baseY := pdf.GetY() + chartHeight

	pdf.SetFillColor(70, 130, 180)
	pdf.SetFont("Helvetica", "", 7)
	for h, v := range rep.hourly {
		x := originX + float64(h)*(barWidth+gap)
		barH := chartHeight * float64(v) / float64(max)
		if v > 0 {
			pdf.Rect(x, baseY-barH, barWidth, barH, "F")
		}
		pdf.Text(x+1, baseY+4, fmt.Sprintf("%d", h))
	}

	// Axis line.
	pdf.Line(originX-1, baseY, originX+24*(barWidth+gap), baseY)
	pdf.SetY(baseY + 8)
}
