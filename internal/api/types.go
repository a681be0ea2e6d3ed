package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is the envelope of every API reply. Fields beyond ok/detail are
// route specific.
type Response struct {
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
	Expires string `json:"expires,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Sent    *int   `json:"sent,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

func intPtr(n int) *int { return &n }

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// readInput collects request fields from a JSON object or a form body.
// JSON numbers and booleans are rendered as text so both encodings go
// through the same parsing.
func readInput(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case nil:
			case string:
				out[k] = val
			case float64:
				out[k] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				out[k] = fmt.Sprint(val)
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	out := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		out[k] = r.PostForm.Get(k)
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	_ = writeJSON(w, status, Response{OK: false, Detail: detail})
}
