package export

import (
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/storage"
)

func seededExporter(t *testing.T) *Exporter {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	for i, dir := range []models.Direction{models.DirectionIn, models.DirectionIn, models.DirectionOut} {
		ev := models.Event{Timestamp: base.Add(time.Duration(i) * time.Minute), TrackID: int64(i + 1), Direction: dir}
		_, err := store.InsertEvent(context.Background(), &ev)
		require.NoError(t, err)
	}

	e := New(store, time.UTC)
	e.now = func() time.Time { return base.AddDate(0, 0, 1) }
	return e
}

func TestExportCSVShape(t *testing.T) {
	e := seededExporter(t)

	res, err := e.Export(context.Background(), Request{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", res.ContentType)
	assert.True(t, strings.HasSuffix(res.FileName, ".csv"))

	r := csv.NewReader(strings.NewReader(string(res.Data)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)

	// Summary block, blank line, header, 3 event rows.
	require.Len(t, rows, 8+3-1) // csv reader drops the empty record line
	assert.Equal(t, "People Counter Export", rows[0][0])
	assert.Equal(t, []string{"In", "2"}, rows[2])
	assert.Equal(t, []string{"Out", "1"}, rows[3])

	header := rows[6]
	assert.Equal(t, []string{"id", "timestamp", "track_id", "person_id", "direction", "snapshot_key"}, header)
	assert.Equal(t, "IN", rows[7][4])
	assert.Equal(t, "OUT", rows[9][4])
}

func TestExportExcelAndPDFProduceFiles(t *testing.T) {
	e := seededExporter(t)

	xlsx, err := e.Export(context.Background(), Request{Format: FormatExcel, IncludeCharts: true})
	require.NoError(t, err)
	assert.NotEmpty(t, xlsx.Data)
	assert.True(t, strings.HasSuffix(xlsx.FileName, ".xlsx"))

	pdf, err := e.Export(context.Background(), Request{Format: FormatPDF, IncludeCharts: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf.Data), "%PDF"))
}

func TestExportRejectsBadRequests(t *testing.T) {
	e := seededExporter(t)

	_, err := e.Export(context.Background(), Request{Format: "doc"})
	assert.Error(t, err)

	_, err = e.Export(context.Background(), Request{
		Format: FormatCSV,
		Start:  time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}
