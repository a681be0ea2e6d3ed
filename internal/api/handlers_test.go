package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/engine"
	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/filler"
	"github.com/xkilldash9x/formpilot/internal/license"
	"github.com/xkilldash9x/formpilot/internal/memory"
	"github.com/xkilldash9x/formpilot/internal/mocks"
	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

var t0 = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	cfg      *config.Config
	page     *mocks.FormPage
	store    *memory.Store
	gate     *license.Gate
	runner   *engine.Runner
	bus      *events.Bus
	recorder *records.SQLiteStore
	handlers *Handlers
	router   http.Handler
}

func newHarness(t *testing.T, adminSecret string) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig()
	dir := t.TempDir()

	h := &harness{cfg: cfg}
	h.page = mocks.NewFormPage(cfg.Form.OptionSelector, cfg.Form.OptionAttribute,
		"Quase acidente", "Raízen", "Vale do Rosário", "08:00", "A", "Adm", "LOTO")
	h.store = memory.New(filepath.Join(dir, "saved_fields.json"), memory.Defaults{FormURL: cfg.Form.DefaultURL}, logger)
	h.gate = license.NewGate(h.store, nil, logger, license.WithClock(func() time.Time { return t0 }))
	h.bus = events.NewBus(logger, 64)

	rec, err := records.NewSQLiteStore(filepath.Join(dir, "submissions.db"), logger)
	require.NoError(t, err)
	h.recorder = rec

	eng := engine.New(engine.Deps{
		License:  h.gate,
		Memory:   h.store,
		Browser:  &mocks.PageOpener{Page: h.page},
		Filler:   filler.New(cfg.Form, logger),
		Recorder: rec,
		Bus:      h.bus,
	}, cfg.Batch, logger)
	h.runner = engine.NewRunner(eng, h.bus, logger)

	h.handlers = NewHandlers(Deps{
		Gate:        h.gate,
		Memory:      h.store,
		Runner:      h.runner,
		Recorder:    rec,
		Bus:         h.bus,
		Catalog:     submission.DefaultCatalog(),
		DefaultURL:  "https://forms.example.com/r/default",
		AdminSecret: adminSecret,
	}, logger)
	h.handlers.now = func() time.Time { return t0 }
	h.router = NewServer(cfg.Server, h.handlers, logger).Router()

	t.Cleanup(func() {
		h.handlers.Close()
		_ = h.runner.Shutdown(context.Background())
		h.bus.Shutdown()
		_ = rec.Close()
	})
	return h
}

func (h *harness) license(t *testing.T) {
	t.Helper()
	_, err := h.gate.Validate("THEMITO")
	require.NoError(t, err)
}

func formValues() url.Values {
	return url.Values{
		"classificacao": {"Quase acidente"},
		"empresa":       {"Raízen"},
		"unidade":       {"Vale do Rosário"},
		"data":          {"10/05/2024"},
		"hora":          {"08:00"},
		"turno":         {"A"},
		"area":          {"Adm"},
		"setor":         {"Moenda"},
		"atividade":     {"Inspeção"},
		"intervencao":   {"Bloqueio"},
		"cs":            {"1234"},
		"observacao":    {"LOTO"},
		"descricao":     {"Descrição"},
		"fiz":           {"Orientei"},
		"form_url":      {"https://forms.example.com/r/abc"},
	}
}

func (h *harness) postForm(path string, v url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *harness) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestValidateLicense(t *testing.T) {
	h := newHarness(t, "")

	rr := h.postForm("/license/validate", url.Values{"key": {" themito "}})
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode(t, rr)
	assert.True(t, resp.OK)
	assert.Equal(t, t0.Add(30*24*time.Hour).Format(time.RFC3339), resp.Expires)

	rr = h.postForm("/license/validate", url.Values{"key": {"NOPE"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, decode(t, rr).OK)

	rr = h.get("/license", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"authorized":true`)
}

func TestSend(t *testing.T) {
	h := newHarness(t, "")

	t.Run("unlicensed", func(t *testing.T) {
		rr := h.postForm("/send", formValues())
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.False(t, decode(t, rr).OK)
	})

	h.license(t)

	t.Run("invalid cs", func(t *testing.T) {
		v := formValues()
		v.Set("cs", "5")
		rr := h.postForm("/send", v)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode(t, rr).Detail, "cs")
	})

	t.Run("json body", func(t *testing.T) {
		body := map[string]any{}
		for k, v := range formValues() {
			body[k] = v[0]
		}
		body["cs"] = 1234
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(string(raw)))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		resp := decode(t, rr)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.Count)
		assert.Equal(t, 1, *resp.Count)
		assert.NotEmpty(t, resp.JobID)
	})
}

func TestSendBatch(t *testing.T) {
	h := newHarness(t, "")
	h.license(t)

	v := formValues()
	v.Del("data")
	v.Set("count", "3")
	rr := h.postForm("/send10", v)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode(t, rr)
	assert.True(t, resp.OK)
	assert.Equal(t, 3, *resp.Sent)
	assert.Equal(t, 3, *resp.Count)

	dates := h.page.FilledValues(fmt.Sprintf(h.cfg.Form.QuestionInput, 4))
	assert.Equal(t, []string{"10/05/2024", "09/05/2024", "08/05/2024"}, dates)

	recs, err := h.recorder.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	v.Set("count", "1000")
	rr = h.postForm("/send10", v)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	v.Set("count", "ten")
	rr = h.postForm("/send10", v)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSendBatchAbortReportsProgress(t *testing.T) {
	h := newHarness(t, "")
	h.license(t)
	submit := fmt.Sprintf(h.cfg.Form.SubmitSelector, h.cfg.Form.SubmitLabels[0])
	submits := 0
	h.page.Hook = func(op, selector string, _ int) error {
		if op == "click" && selector == submit {
			submits++
			if submits == 2 {
				return assert.AnError
			}
		}
		return nil
	}

	v := formValues()
	v.Set("count", "5")
	rr := h.postForm("/send10", v)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode(t, rr)
	assert.False(t, resp.OK)
	assert.Equal(t, 1, *resp.Sent)
	assert.Equal(t, 1, *resp.Count)
	assert.NotEmpty(t, resp.Detail)
}

func TestBusyRunnerReturnsConflict(t *testing.T) {
	h := newHarness(t, "")
	h.license(t)
	release := make(chan struct{})
	h.page.Hook = func(op, _ string, _ int) error {
		if op == "goto" {
			<-release
		}
		return nil
	}

	rr := h.postForm("/send?async=true", formValues())
	require.Equal(t, http.StatusAccepted, rr.Code)
	jobID := decode(t, rr).JobID
	require.NotEmpty(t, jobID)

	rr = h.postForm("/send", formValues())
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = h.get("/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), jobID)

	close(release)
	job, err := h.runner.Wait(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, engine.JobSucceeded, job.Status)

	rr = h.get("/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteValue(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.store.Remember(submission.FieldSector, "Moenda"))

	rr := h.postForm("/delete_value", url.Values{"field": {"unidade"}, "value": {"x"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.postForm("/delete_value", url.Values{"field": {"setor"}, "value": {"Moenda"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, h.store.Load().Sectors, "Moenda")
}

func TestSavedAndOptions(t *testing.T) {
	h := newHarness(t, "")

	rr := h.get("/saved", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var saved map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &saved))
	for _, key := range []string{"setor", "atividade", "intervencao", "intervencao_cs_map", "intervencao_counts", "last_values"} {
		assert.Contains(t, saved, key)
	}

	rr = h.get("/options", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Vale do Rosário")

	rr = h.get("/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestExportRequiresAdminToken(t *testing.T) {
	const secret = "s3cret"
	h := newHarness(t, secret)
	h.license(t)
	require.Equal(t, http.StatusOK, h.postForm("/send", formValues()).Code)

	rr := h.get("/export.csv", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	bad, err := IssueToken("other", AdminSubject, time.Hour, time.Now())
	require.NoError(t, err)
	rr = h.get("/export.csv", http.Header{"Authorization": {"Bearer " + bad}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := IssueToken(secret, AdminSubject, time.Hour, time.Now())
	require.NoError(t, err)
	auth := http.Header{"Authorization": {"Bearer " + token}}

	rr = h.get("/export.csv", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,classificacao,empresa"))

	rr = h.get("/export.json", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []records.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, records.ModeSingle, recs[0].Mode)
}

func TestExportOpenWithoutSecret(t *testing.T) {
	h := newHarness(t, "")
	rr := h.get("/export.json", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestVerifyToken(t *testing.T) {
	expired, err := IssueToken("k", AdminSubject, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyToken("k", expired), ErrInvalidToken)

	other, err := IssueToken("k", "someone", time.Hour, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyToken("k", other), ErrInvalidToken)

	_, err = IssueToken("", AdminSubject, time.Hour, time.Now())
	assert.Error(t, err)
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, "")
	srv := httptest.NewServer(h.router)
	defer srv.Close()
	defer h.handlers.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?topics=log", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The handler subscribes before writing headers, so this is delivered.
	h.bus.Publish(events.TopicLog, events.Log{Level: "info", Message: "hello"})

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, "log", event)
	assert.Contains(t, data, `"message":"hello"`)
}

func TestEventStreamRejectsUnknownTopic(t *testing.T) {
	h := newHarness(t, "")
	rr := h.get("/events?topics=log,bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	h := newHarness(t, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, h.handlers, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
