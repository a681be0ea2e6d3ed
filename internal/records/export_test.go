package records

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	rec := New(samplePayload("10/05/2024"), ModeBatch, time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Record{rec}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id,classificacao,empresa,unidade,data,hora,turno,area,setor,atividade,intervencao,cs,observacao,descricao,fiz,form_url,mode,created_at",
		joinCSV(rows[0]))
	assert.Equal(t, rec.ID, rows[1][0])
	assert.Equal(t, "1234", rows[1][11])
	assert.Equal(t, "Descrição, com vírgula", rows[1][13])
	assert.Equal(t, "batch", rows[1][16])
	assert.Equal(t, "2024-05-10T12:00:00Z", rows[1][17])
}

func joinCSV(cols []string) string {
	var buf bytes.Buffer
	for i, c := range cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(c)
	}
	return buf.String()
}

func TestWriteJSON(t *testing.T) {
	rec := New(samplePayload("10/05/2024"), ModeSingle, time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []Record{rec}))
	assert.Contains(t, buf.String(), `"intervencao": "Bloqueio"`)
	assert.Contains(t, buf.String(), `"mode": "single"`)
	assert.Contains(t, buf.String(), `"cs": 1234`)

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", f.ContentType())

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
