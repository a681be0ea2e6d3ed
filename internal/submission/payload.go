// Package submission defines the record sent to the observation form and the
// rules a record must satisfy before any browser work starts.
package submission

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout and TimeLayout are the formats the form expects.
const (
	DateLayout = "02/01/2006"
	TimeLayout = "15:04"

	MinCS = 10
	MaxCS = 999_999_999
)

// Field names a form field. The values double as persisted keys and wire names.
type Field string

const (
	FieldClassification Field = "classificacao"
	FieldCompany        Field = "empresa"
	FieldUnit           Field = "unidade"
	FieldDate           Field = "data"
	FieldTime           Field = "hora"
	FieldShift          Field = "turno"
	FieldArea           Field = "area"
	FieldSector         Field = "setor"
	FieldActivity       Field = "atividade"
	FieldIntervention   Field = "intervencao"
	FieldCS             Field = "cs"
	FieldObservation    Field = "observacao"
	FieldDescription    Field = "descricao"
	FieldActionTaken    Field = "fiz"
	FieldFormURL        Field = "form_url"
)

// Fields lists every payload field in form order, followed by the target URL.
var Fields = []Field{
	FieldClassification, FieldCompany, FieldUnit, FieldDate, FieldTime, FieldShift,
	FieldArea, FieldSector, FieldActivity, FieldIntervention, FieldCS,
	FieldObservation, FieldDescription, FieldActionTaken, FieldFormURL,
}

// Payload is one validated form submission.
type Payload struct {
	Classification string `json:"classificacao" validate:"required"`
	Company        string `json:"empresa" validate:"required"`
	Unit           string `json:"unidade" validate:"required"`
	Date           string `json:"data" validate:"required,brdate"`
	Time           string `json:"hora" validate:"required,hhmm"`
	Shift          string `json:"turno" validate:"required"`
	Area           string `json:"area" validate:"required"`
	Sector         string `json:"setor" validate:"required"`
	Activity       string `json:"atividade" validate:"required"`
	Intervention   string `json:"intervencao" validate:"required"`
	CS             int    `json:"cs" validate:"min=10,max=999999999"`
	Observation    string `json:"observacao" validate:"required"`
	Description    string `json:"descricao" validate:"required"`
	ActionTaken    string `json:"fiz" validate:"required"`
	FormURL        string `json:"form_url" validate:"required,url"`
}

// Input carries raw caller values before parsing. Keys are Field names.
type Input map[Field]string

// Build trims every value, parses CS and validates the result.
func Build(in Input) (Payload, error) {
	get := func(f Field) string { return strings.TrimSpace(in[f]) }

	cs, err := ParseCS(get(FieldCS))
	if err != nil {
		return Payload{}, err
	}

	p := Payload{
		Classification: get(FieldClassification),
		Company:        get(FieldCompany),
		Unit:           get(FieldUnit),
		Date:           get(FieldDate),
		Time:           get(FieldTime),
		Shift:          get(FieldShift),
		Area:           get(FieldArea),
		Sector:         get(FieldSector),
		Activity:       get(FieldActivity),
		Intervention:   get(FieldIntervention),
		CS:             cs,
		Observation:    get(FieldObservation),
		Description:    get(FieldDescription),
		ActionTaken:    get(FieldActionTaken),
		FormURL:        get(FieldFormURL),
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// ParseCS parses a CS value and enforces its range.
func ParseCS(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &ValidationError{Field: FieldCS, Reason: "is required"}
	}
	cs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Field: FieldCS, Reason: fmt.Sprintf("%q is not an integer", raw)}
	}
	if cs < MinCS || cs > MaxCS {
		return 0, &ValidationError{Field: FieldCS, Reason: fmt.Sprintf("must be between %d and %d", MinCS, MaxCS)}
	}
	return cs, nil
}

// ParsedDate returns the payload date as a calendar day.
func (p Payload) ParsedDate() (time.Time, error) {
	d, err := time.Parse(DateLayout, p.Date)
	if err != nil {
		return time.Time{}, &ValidationError{Field: FieldDate, Reason: fmt.Sprintf("%q is not DD/MM/YYYY", p.Date)}
	}
	return d, nil
}

// ShiftDays returns a copy of p whose date moves by n days.
func (p Payload) ShiftDays(n int) (Payload, error) {
	d, err := p.ParsedDate()
	if err != nil {
		return Payload{}, err
	}
	p.Date = d.AddDate(0, 0, n).Format(DateLayout)
	return p, nil
}

// Value returns the wire value of a field. CS is rendered in decimal.
func (p Payload) Value(f Field) string {
	switch f {
	case FieldClassification:
		return p.Classification
	case FieldCompany:
		return p.Company
	case FieldUnit:
		return p.Unit
	case FieldDate:
		return p.Date
	case FieldTime:
		return p.Time
	case FieldShift:
		return p.Shift
	case FieldArea:
		return p.Area
	case FieldSector:
		return p.Sector
	case FieldActivity:
		return p.Activity
	case FieldIntervention:
		return p.Intervention
	case FieldCS:
		return strconv.Itoa(p.CS)
	case FieldObservation:
		return p.Observation
	case FieldDescription:
		return p.Description
	case FieldActionTaken:
		return p.ActionTaken
	case FieldFormURL:
		return p.FormURL
	}
	return ""
}

// Values projects the payload into a field→value map covering all Fields.
func (p Payload) Values() map[string]string {
	out := make(map[string]string, len(Fields))
	for _, f := range Fields {
		out[string(f)] = p.Value(f)
	}
	return out
}
