// Package records keeps the append-only audit log of successful submissions
// and exports it as JSON or CSV.
package records

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xkilldash9x/formpilot/internal/submission"
)

// Mode tells how a record was submitted.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeBatch  Mode = "batch"
)

// Record is one successful submission.
type Record struct {
	ID string `json:"id"`
	submission.Payload
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// New stamps p with a fresh ULID and the creation time.
func New(p submission.Payload, mode Mode, now time.Time) Record {
	now = now.UTC()
	return Record{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Payload:   p,
		Mode:      mode,
		CreatedAt: now,
	}
}

// Recorder persists records. List returns newest first.
type Recorder interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// Columns is the storage and export column order.
var Columns = []string{
	"id", "classificacao", "empresa", "unidade", "data", "hora", "turno", "area",
	"setor", "atividade", "intervencao", "cs", "observacao", "descricao", "fiz",
	"form_url", "mode", "created_at",
}

// payloadDest returns scan destinations for the payload columns, in Columns
// order between id and mode.
func payloadDest(r *Record) []any {
	p := &r.Payload
	return []any{
		&p.Classification, &p.Company, &p.Unit, &p.Date, &p.Time, &p.Shift, &p.Area,
		&p.Sector, &p.Activity, &p.Intervention, &p.CS, &p.Observation, &p.Description,
		&p.ActionTaken, &p.FormURL,
	}
}

func payloadArgs(r Record) []any {
	p := r.Payload
	return []any{
		p.Classification, p.Company, p.Unit, p.Date, p.Time, p.Shift, p.Area,
		p.Sector, p.Activity, p.Intervention, p.CS, p.Observation, p.Description,
		p.ActionTaken, p.FormURL,
	}
}

// nopRecorder discards records.
type nopRecorder struct{}

func (nopRecorder) Append(context.Context, Record) error   { return nil }
func (nopRecorder) List(context.Context) ([]Record, error) { return []Record{}, nil }
func (nopRecorder) Close() error                           { return nil }

// Nop returns a Recorder that keeps nothing.
func Nop() Recorder { return nopRecorder{} }
