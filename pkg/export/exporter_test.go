package export

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"Student ID", "MATH", "Notes"},
		Rows: []map[string]string{
			{"Student ID": "S1", "MATH": "12.50", "Notes": "transfer, mid-year"},
			{"Student ID": "S2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Student ID,MATH,Notes\nS1,12.50,\"transfer, mid-year\"\nS2,,\n", string(out))
}

func TestExportersRejectBadHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)

	_, err = NewPDFExporter().Render(Dataset{Headers: []string{"A", "A"}}, "")
	assert.Error(t, err)
}

func TestPDFExporterPaginates(t *testing.T) {
	rows := make([]map[string]string, 0, 80)
	for i := 0; i < 80; i++ {
		rows = append(rows, map[string]string{"Student ID": fmt.Sprintf("S%02d", i), "General Average": "10.00"})
	}
	out, err := NewPDFExporter().Render(Dataset{
		Headers: []string{"Student ID", "General Average"},
		Rows:    rows,
		Numeric: map[string]bool{"General Average": true},
		Summary: []string{"Finalized: 80 of 80"},
	}, "Year Averages C1 2024-2025")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	pages := bytes.Count(out, []byte("/Type /Page")) - bytes.Count(out, []byte("/Type /Pages"))
	assert.Greater(t, pages, 1)
}
