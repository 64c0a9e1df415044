package core

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteLogWorkbook(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	logs := []ImportLog{
		{Row: 2, Identifier: "A1", Status: LogSuccess, Message: "Produk A1 berhasil disimpan", Timestamp: ts},
		{Row: 3, Identifier: "A2", Status: LogFailed, Message: "connection refused", Timestamp: ts},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLogWorkbook(&buf, logs))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Log"}, f.GetSheetList())
	rows, err := f.GetRows("Log")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, LogExportHeaders, rows[0])
	assert.Equal(t, []string{"2", "A1", "success", "Produk A1 berhasil disimpan", "2024-03-01T08:30:00Z"}, rows[1])
	assert.Equal(t, "failed", rows[2][2])
}

func TestWriteLogWorkbook_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLogWorkbook(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Log")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}

func TestWriteTemplateWorkbook_RoundTrip(t *testing.T) {
	def := stockDefinition()
	examples := []string{"SKU-001", "Contoh Produk", "10", "15000.5"}
	for i := range def.Fields {
		def.Fields[i].Example = examples[i]
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTemplateWorkbook(&buf, def))

	rows, err := ParseFile(def, TemplateFileName(def.Key), buf.Bytes())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SKU-001", rows[0].Field("sku"))
	assert.Equal(t, "10", rows[0].Field("stock_quantity"))
	assert.Equal(t, "15000.5", rows[0].Field("price"))

	rows = Validate(def, rows)
	assert.Equal(t, StatusValid, rows[0].Status, "the example row must pass validation")
}

func TestExportFileNames(t *testing.T) {
	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "inventory_log_20240102-150405.xlsx", LogExportFileName("inventory", at))
	assert.Equal(t, "template_inventory.xlsx", TemplateFileName("inventory"))
}
