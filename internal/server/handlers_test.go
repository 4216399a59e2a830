package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/embedding"
	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/modeling"
	"github.com/academiaos/academiaos/internal/pipeline"
	"github.com/academiaos/academiaos/internal/session"
	"github.com/academiaos/academiaos/internal/telemetry"
)

type stubUsage struct {
	rows []telemetry.UsageSummary
	err  error
}

func (s stubUsage) Summary(context.Context) ([]telemetry.UsageSummary, error) {
	return s.rows, s.err
}

func fakeLLM() *llm.FakeProvider {
	return llm.NewFakeProvider().
		Reply("codes", `{"codes":["trusting leaders"]}`).
		Reply("themes", `{"Trust":["trusting leaders"]}`).
		Reply("dimensions", `{"Leadership":["Trust"]}`).
		Reply(modeling.StepBrainstorm, `[{"theory":"T","description":"d"}]`).
		Reply(modeling.StepHypothesize, `[["trust","autonomy"]]`).
		Reply(modeling.StepRelate, "Trust grants autonomy.").
		Reply(modeling.StepConstruct, "Trust leads to autonomy.").
		Reply(modeling.StepName, "Trust Model").
		Reply(modeling.StepVisualize, "graph TD\nA-->B").
		Reply(modeling.StepCritique, "Fine.")
}

func newTestServer(t *testing.T, fake *llm.FakeProvider, usage UsageSource) (*Server, session.Store) {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	store := session.NewMemoryStore()
	factory := func(s *session.Session) (*pipeline.Pipeline, error) {
		comp, err := pipeline.BuildComponents(cfg, llm.NewWithProvider(fake), embedding.NewMockEmbedder(64), nil)
		if err != nil {
			return nil, err
		}
		return pipeline.New(s, comp, pipeline.WithCommitHook(store.Save))
	}
	return NewServer(store, factory, nil, usage, &cfg.Server, nil), store
}

func do(t *testing.T, s *Server, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rr.Body.String(), err)
	}
	return out
}

func createSession(t *testing.T, s *Server, body string) string {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/api/v1/sessions", "application/json", []byte(body))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", rr.Code, rr.Body.String())
	}
	return decode(t, rr)["id"].(string)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, fakeLLM(), nil)
	rr := do(t, s, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := decode(t, rr)["status"]; got != "ok" {
		t.Errorf("status field = %v, want ok", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, store := newTestServer(t, fakeLLM(), nil)

	id := createSession(t, s, `{"query":"trust","papers":[{"title":"A","fullText":"Leaders trust teams."}]}`)

	rr := do(t, s, http.MethodGet, "/api/v1/sessions/"+id, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status %d", rr.Code)
	}
	doc, err := session.Decode(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.Query != "trust" || len(doc.Papers) != 1 {
		t.Errorf("document = %+v", doc)
	}

	rr = do(t, s, http.MethodGet, "/api/v1/sessions", "", nil)
	if ids := decode(t, rr)["sessions"].([]any); len(ids) != 1 || ids[0] != id {
		t.Errorf("sessions = %v", ids)
	}

	rr = do(t, s, http.MethodDelete, "/api/v1/sessions/"+id, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rr.Code)
	}
	if _, err := store.Get(context.Background(), id); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
	rr = do(t, s, http.MethodGet, "/api/v1/sessions/"+id, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", rr.Code)
	}
}

func TestHandleCreateSession_InvalidDocument(t *testing.T) {
	s, _ := newTestServer(t, fakeLLM(), nil)
	rr := do(t, s, http.MethodPost, "/api/v1/sessions", "application/json", []byte(`{"schemaVersion":99}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleAddPapers(t *testing.T) {
	s, store := newTestServer(t, fakeLLM(), nil)
	id := createSession(t, s, "")

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantPapers int
	}{
		{"array", `[{"id":"p1","title":"A","fullText":"x"}]`, http.StatusCreated, 1},
		{"wrapped", `{"papers":[{"title":"B","fullText":"y"}]}`, http.StatusCreated, 2},
		{"empty", `[]`, http.StatusBadRequest, 2},
		{"invalid", `{"papers":`, http.StatusBadRequest, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/papers", "application/json", []byte(tt.body))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			sess, err := store.Get(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if got := len(sess.Snapshot().Papers); got != tt.wantPapers {
				t.Errorf("papers = %d, want %d", got, tt.wantPapers)
			}
		})
	}
}

func TestHandleAddPapers_Upload(t *testing.T) {
	s, store := newTestServer(t, fakeLLM(), nil)
	id := createSession(t, s, "")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "trust.txt")
	_, _ = fw.Write([]byte("Trust at Work\n\nAbstract\nLeaders who trust their teams grant autonomy."))
	fw, _ = mw.CreateFormFile("file", "slides.pptx")
	_, _ = fw.Write([]byte("not supported"))
	_ = mw.Close()

	rr := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/papers", mw.FormDataContentType(), body.Bytes())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	out := decode(t, rr)
	if warnings := out["warnings"].([]any); len(warnings) != 1 {
		t.Errorf("warnings = %v, want one", warnings)
	}
	sess, _ := store.Get(context.Background(), id)
	papers := sess.Snapshot().Papers
	if len(papers) != 1 || papers[0].Title != "Trust at Work" {
		t.Errorf("papers = %+v", papers)
	}
}

func TestHandleRunPhase(t *testing.T) {
	s, store := newTestServer(t, fakeLLM(), nil)
	id := createSession(t, s, `{"papers":[{"id":"p1","title":"A","fullText":"Leaders trust teams."}]}`)

	rr := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/phases/codes", "application/json", []byte(`{"remarks":"nurses"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	if state := decode(t, rr)["state"]; state != string(pipeline.StateCompleted) {
		t.Errorf("state = %v", state)
	}

	sess, _ := store.Get(context.Background(), id)
	m := sess.Snapshot()
	if len(m.FirstOrderCodes) != 1 || m.Remarks != "nurses" {
		t.Errorf("codes = %v, remarks = %q", m.FirstOrderCodes, m.Remarks)
	}

	rr = do(t, s, http.MethodGet, "/api/v1/sessions/"+id+"/status", "", nil)
	out := decode(t, rr)
	if out["codes"].(float64) != 1 {
		t.Errorf("status codes = %v", out["codes"])
	}
	phases := out["phases"].([]any)
	if first := phases[0].(map[string]any); first["state"] != string(pipeline.StateCompleted) {
		t.Errorf("first phase = %v", first)
	}
}

func TestHandleRunPhase_Errors(t *testing.T) {
	fake := fakeLLM().Reply("dimensions", "no JSON here")
	s, _ := newTestServer(t, fake, nil)
	id := createSession(t, s, `{"papers":[{"id":"p1","fullText":"Leaders trust teams."}]}`)

	rr := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/phases/bogus", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown phase: status %d, want 404", rr.Code)
	}
	rr = do(t, s, http.MethodPost, "/api/v1/sessions/missing/phases/codes", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown session: status %d, want 404", rr.Code)
	}
	rr = do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/phases/codes", "application/json", []byte(`{`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad body: status %d, want 400", rr.Code)
	}

	rr = do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/run", "", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("run: status %d (%s), want 422", rr.Code, rr.Body.String())
	}
	phases := decode(t, rr)["phases"].([]any)
	if len(phases) != 3 {
		t.Fatalf("phases = %d, want 3", len(phases))
	}
	last := phases[2].(map[string]any)
	if last["state"] != string(pipeline.StateFailed) || last["error"] == "" {
		t.Errorf("dimensions report = %v", last)
	}
}

func TestHandleRun(t *testing.T) {
	s, store := newTestServer(t, fakeLLM(), nil)
	id := createSession(t, s, `{"papers":[{"id":"p1","fullText":"Leaders trust teams."}]}`)

	rr := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/run", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	sess, _ := store.Get(context.Background(), id)
	if name := sess.Snapshot().ModelName; name != "Trust Model" {
		t.Errorf("model name = %q", name)
	}

	rr = do(t, s, http.MethodGet, "/api/v1/sessions/"+id+"/export.xlsx", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export: status %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Body.String(), "PK") {
		t.Error("export is not a zip archive")
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandleUsage(t *testing.T) {
	s, _ := newTestServer(t, fakeLLM(), nil)
	if rr := do(t, s, http.MethodGet, "/api/v1/usage", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("disabled: status %d, want 404", rr.Code)
	}

	rows := []telemetry.UsageSummary{{Provider: "fake", Model: "m", Calls: 2}}
	s, _ = newTestServer(t, fakeLLM(), stubUsage{rows: rows})
	rr := do(t, s, http.MethodGet, "/api/v1/usage", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if usage := decode(t, rr)["usage"].([]any); len(usage) != 1 {
		t.Errorf("usage = %v", usage)
	}

	s, _ = newTestServer(t, fakeLLM(), stubUsage{err: errors.New("db closed")})
	if rr := do(t, s, http.MethodGet, "/api/v1/usage", "", nil); rr.Code != http.StatusInternalServerError {
		t.Errorf("error: status %d, want 500", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		rep  *pipeline.PhaseReport
		want int
	}{
		{&pipeline.PhaseReport{State: pipeline.StateCompleted}, http.StatusOK},
		{&pipeline.PhaseReport{State: pipeline.StatePartiallyFailed}, http.StatusOK},
		{&pipeline.PhaseReport{State: pipeline.StateCanceled}, http.StatusConflict},
		{&pipeline.PhaseReport{State: pipeline.StateFailed, Err: errors.New("x")}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if got := statusFor(tt.rep); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.rep.State, got, tt.want)
		}
	}
}
