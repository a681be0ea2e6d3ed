// Package memory persists the field memory: names used before, last submitted
// values, per-intervention counters and the license state.
package memory

import (
	"slices"
	"time"

	"github.com/xkilldash9x/formpilot/internal/submission"
)

// Record is the singleton field-memory document.
type Record struct {
	Sectors            []string          `json:"setor"`
	Activities         []string          `json:"atividade"`
	Interventions      []string          `json:"intervencao"`
	InterventionCS     map[string]string `json:"intervencao_cs_map"`
	InterventionCounts map[string]int    `json:"intervencao_counts"`
	Observation        []string          `json:"observacao"`
	LastValues         map[string]string `json:"last_values"`
	LicenseKey         string            `json:"license_key"`
	LicenseExpiry      string            `json:"license_expiry"`
}

// Defaults seeds fresh records and fills keys missing from older files.
type Defaults struct {
	FormURL string
	Catalog submission.Catalog
	Now     func() time.Time
}

func (d Defaults) lastValues() map[string]string {
	firstObs := ""
	if len(d.Catalog.Observations) > 0 {
		firstObs = d.Catalog.Observations[0]
	}
	return map[string]string{
		string(submission.FieldClassification): "Quase acidente",
		string(submission.FieldCompany):        "Raízen",
		string(submission.FieldUnit):           "Vale do Rosário",
		string(submission.FieldDate):           d.Now().Format(submission.DateLayout),
		string(submission.FieldTime):           "08:00",
		string(submission.FieldShift):          "A",
		string(submission.FieldArea):           "Adm",
		string(submission.FieldSector):         "",
		string(submission.FieldActivity):       "",
		string(submission.FieldIntervention):   "",
		string(submission.FieldCS):             "",
		string(submission.FieldObservation):    firstObs,
		string(submission.FieldDescription):    "",
		string(submission.FieldActionTaken):    "",
		string(submission.FieldFormURL):        d.FormURL,
	}
}

// fill sets every missing key to its default.
func (d Defaults) fill(r *Record) {
	if r.Sectors == nil {
		r.Sectors = []string{}
	}
	if r.Activities == nil {
		r.Activities = []string{}
	}
	if r.Interventions == nil {
		r.Interventions = []string{}
	}
	if r.InterventionCS == nil {
		r.InterventionCS = map[string]string{}
	}
	if r.InterventionCounts == nil {
		r.InterventionCounts = map[string]int{}
	}
	if r.Observation == nil {
		r.Observation = []string{}
		if len(d.Catalog.Observations) > 0 {
			r.Observation = []string{d.Catalog.Observations[0]}
		}
	}
	if r.LastValues == nil {
		r.LastValues = map[string]string{}
	}
	for k, v := range d.lastValues() {
		if _, ok := r.LastValues[k]; !ok {
			r.LastValues[k] = v
		}
	}
}

// InterventionSummary returns the remembered CS and submission count for an
// intervention, as shown next to the intervention picker.
func (r *Record) InterventionSummary(name string) (cs string, count int) {
	if name == "" {
		return "", 0
	}
	return r.InterventionCS[name], r.InterventionCounts[name]
}

// Clone returns a deep copy so callers never share maps with the store.
func (r *Record) Clone() *Record {
	c := *r
	c.Sectors = slices.Clone(r.Sectors)
	c.Activities = slices.Clone(r.Activities)
	c.Interventions = slices.Clone(r.Interventions)
	c.Observation = slices.Clone(r.Observation)
	c.InterventionCS = cloneMap(r.InterventionCS)
	c.InterventionCounts = cloneMap(r.InterventionCounts)
	c.LastValues = cloneMap(r.LastValues)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// list returns a pointer to the known-list backing a rememberable field.
func (r *Record) list(field submission.Field) (*[]string, bool) {
	switch field {
	case submission.FieldSector:
		return &r.Sectors, true
	case submission.FieldActivity:
		return &r.Activities, true
	case submission.FieldIntervention:
		return &r.Interventions, true
	}
	return nil, false
}

func appendUnique(list []string, value string) []string {
	if value == "" || slices.Contains(list, value) {
		return list
	}
	return append(list, value)
}

func (r *Record) applySubmission(p submission.Payload) {
	r.Sectors = appendUnique(r.Sectors, p.Sector)
	r.Activities = appendUnique(r.Activities, p.Activity)
	if p.Intervention != "" {
		r.Interventions = appendUnique(r.Interventions, p.Intervention)
		r.InterventionCS[p.Intervention] = p.Value(submission.FieldCS)
		r.InterventionCounts[p.Intervention]++
	}
	r.Observation = []string{p.Observation}
	r.LastValues = p.Values()
}
