package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/learndebug/internal/diagnosis"
	"github.com/abhisek/learndebug/internal/llm"
	"github.com/abhisek/learndebug/internal/metrics"
	"github.com/abhisek/learndebug/internal/store"
)

const analysisJSON = `{
	"root_cause": "treats state as a plain variable",
	"confidence": 30,
	"repair_question": "What happens to a local variable when the component renders again?",
	"missing_prerequisites": ["Render cycle"],
	"learning_resources": [{"title": "State basics", "type": "article", "url": "https://react.dev", "relevance": "core idea"}],
	"knowledge_coverage": 45,
	"inferred_concept": "React State"
}`

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	store   *store.Store
	mock    *llm.MockProvider
	metrics *metrics.Metrics
	handler http.Handler
}

type envOption func(*Config, *Deps)

func production() envOption {
	return func(c *Config, _ *Deps) { c.Production = true }
}

func maxUpload(n int64) envOption {
	return func(c *Config, _ *Deps) { c.MaxUploadBytes = n }
}

func withoutModel() envOption {
	return func(_ *Config, d *Deps) { d.Diagnoser = nil }
}

func newTestEnv(t *testing.T, responses []llm.MockResponse, opts ...envOption) *testEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.Open(fmt.Sprintf("file:srv_%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mock := llm.NewMockProvider(responses...)
	invCfg := diagnosis.DefaultInvokerConfig()
	invCfg.Retry.InitialWait = time.Millisecond
	invCfg.Retry.MaxWait = time.Millisecond
	invCfg.Timeout = 5 * time.Second

	m := metrics.New()
	pipeline := diagnosis.NewPipeline(diagnosis.Deps{
		Invoker:  diagnosis.NewInvoker(mock, invCfg, nil),
		Store:    s.Diagnoses(),
		Observer: m,
	})

	cfg := Config{Addr: ":0"}
	deps := Deps{Diagnoser: pipeline, Diagnoses: s.Diagnoses(), Metrics: m}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	return &testEnv{store: s, mock: mock, metrics: m, handler: New(cfg, deps).Handler()}
}

func ok() llm.MockResponse {
	return llm.MockResponse{Content: json.RawMessage(analysisJSON)}
}

type filePart struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, file *filePart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, file.name))
		h.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *testEnv) diagnose(t *testing.T, fields map[string]string, file *filePart) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, file)
	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["gemini_status"])
	_, err := time.Parse(time.RFC3339Nano, body["timestamp"])
	assert.NoError(t, err)

	env = newTestEnv(t, nil, withoutModel())
	body = decode[map[string]string](t, env.do(http.MethodGet, "/api/health"))
	assert.Equal(t, "disconnected", body["gemini_status"])
}

func TestDiagnose_Success(t *testing.T) {
	env := newTestEnv(t, []llm.MockResponse{ok()})
	rec := env.diagnose(t, map[string]string{
		"user_explanation": "state is just a variable",
		"user_id":          "u1",
		"session_id":       "undefined",
		"concept_name":     "null",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[diagnosis.Result](t, rec)
	assert.NotEmpty(t, res.SessionID)
	assert.NotEqual(t, "undefined", res.SessionID)
	assert.Equal(t, "React State", res.ConceptName)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, 30, res.Confidence)
	assert.Equal(t, 45, res.KnowledgeCoverage)
	assert.NotZero(t, res.DiagnosisID)
	assert.False(t, res.Timestamp.IsZero())

	rows, err := env.store.Diagnoses().ListBySession(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, res.DiagnosisID, rows[0].ID)
}

func TestDiagnose_URLEncodedForm(t *testing.T) {
	env := newTestEnv(t, []llm.MockResponse{ok()})
	form := "user_explanation=closures+capture+values&user_id=u2&concept_name=Closures"
	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Closures", decode[diagnosis.Result](t, rec).ConceptName)
}

func TestDiagnose_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		field   string
		message string
	}{
		{"no explanation", map[string]string{"user_id": "u1"}, "user_explanation", "Explanation is required"},
		{"blank explanation", map[string]string{"user_id": "u1", "user_explanation": "   "}, "user_explanation", "Explanation is required"},
		{"no user", map[string]string{"user_explanation": "x"}, "user_id", "User ID is required"},
		{"undefined user", map[string]string{"user_explanation": "x", "user_id": "undefined"}, "user_id", "User ID is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, []llm.MockResponse{ok()})
			rec := env.diagnose(t, tt.fields, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			body := decode[map[string]string](t, rec)
			assert.Equal(t, tt.field, body["field"])
			assert.Equal(t, tt.message, body["message"])
			assert.Zero(t, env.mock.CallCount())
		})
	}
}

func TestDiagnose_RateLimited(t *testing.T) {
	limited := llm.MockResponse{Err: &llm.ErrRateLimit{Err: fmt.Errorf("429 quota")}}
	env := newTestEnv(t, []llm.MockResponse{limited, limited, limited, limited})

	rec := env.diagnose(t, map[string]string{"user_explanation": "x", "user_id": "u1", "session_id": "s1"}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["message"], "Rate Limit Exceeded")
	assert.Equal(t, 4, env.mock.CallCount())

	rows, err := env.store.Diagnoses().ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDiagnose_Unavailable(t *testing.T) {
	down := llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: fmt.Errorf("503 overloaded")}}
	env := newTestEnv(t, []llm.MockResponse{down, down, down, down})

	rec := env.diagnose(t, map[string]string{"user_explanation": "x", "user_id": "u1"}, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["message"], "temporarily overloaded")
}

func TestDiagnose_MalformedHidesDetailInProduction(t *testing.T) {
	bad := llm.MockResponse{Content: json.RawMessage(`{"confidence": 10}`)}

	env := newTestEnv(t, []llm.MockResponse{bad}, production())
	rec := env.diagnose(t, map[string]string{"user_explanation": "x", "user_id": "u1"}, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, msgDiagnoseFailed, body["message"])
	assert.NotContains(t, body, "error")

	env = newTestEnv(t, []llm.MockResponse{bad})
	rec = env.diagnose(t, map[string]string{"user_explanation": "x", "user_id": "u1"}, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
}

func TestDiagnose_ModelNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil, withoutModel())
	rec := env.diagnose(t, map[string]string{"user_explanation": "x", "user_id": "u1"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDiagnose_Attachments(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

	t.Run("image reaches model", func(t *testing.T) {
		env := newTestEnv(t, []llm.MockResponse{ok()})
		rec := env.diagnose(t, map[string]string{"user_explanation": "see my notes", "user_id": "u1"},
			&filePart{name: "notes.png", contentType: "image/png", data: png})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		req, called := env.mock.LastCall()
		require.True(t, called)
		require.Len(t, req.Messages, 1)
		require.Len(t, req.Messages[0].Attachments, 1)
		assert.Equal(t, "image/png", req.Messages[0].Attachments[0].MIMEType)
	})

	t.Run("unsupported type", func(t *testing.T) {
		env := newTestEnv(t, []llm.MockResponse{ok()})
		rec := env.diagnose(t, map[string]string{"user_explanation": "x", "user_id": "u1"},
			&filePart{name: "notes.txt", contentType: "text/plain", data: []byte("plain notes")})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "file", decode[map[string]string](t, rec)["field"])
		assert.Zero(t, env.mock.CallCount())
	})

	t.Run("too large", func(t *testing.T) {
		env := newTestEnv(t, []llm.MockResponse{ok()}, maxUpload(32))
		rec := env.diagnose(t, map[string]string{"user_explanation": "x", "user_id": "u1"},
			&filePart{name: "notes.png", contentType: "image/png", data: png})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[map[string]string](t, rec)
		assert.Equal(t, "file", body["field"])
		assert.Equal(t, "File is too large (max 32 bytes)", body["message"])
		assert.Zero(t, env.mock.CallCount())
	})
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{32, "32 bytes"},
		{1500, "1500 bytes"},
		{512 << 10, "512 KB"},
		{1536 << 10, "1536 KB"},
		{10 << 20, "10 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.n))
	}
}

func TestHistoryAndSession(t *testing.T) {
	env := newTestEnv(t, []llm.MockResponse{ok(), ok(), ok()})

	first := decode[diagnosis.Result](t, env.diagnose(t, map[string]string{"user_explanation": "one", "user_id": "u1"}, nil))
	second := decode[diagnosis.Result](t, env.diagnose(t, map[string]string{
		"user_explanation": "two", "user_id": "u1", "session_id": first.SessionID,
	}, nil))
	require.Equal(t, first.SessionID, second.SessionID)
	decode[diagnosis.Result](t, env.diagnose(t, map[string]string{"user_explanation": "other", "user_id": "u2"}, nil))

	rec := env.do(http.MethodGet, "/api/history/u1")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]store.Diagnosis](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].UserExplanation)
	assert.Equal(t, "one", history[1].UserExplanation)

	rec = env.do(http.MethodGet, "/api/session/"+first.SessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	turns := decode[[]store.Diagnosis](t, rec)
	require.Len(t, turns, 2)
	assert.Equal(t, "one", turns[0].UserExplanation)
	assert.Equal(t, []string{"Render cycle"}, turns[0].MissingPrerequisites)

	rec = env.do(http.MethodGet, "/api/session/nope")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/history/nobody")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDeleteDiagnostic(t *testing.T) {
	env := newTestEnv(t, []llm.MockResponse{ok()})
	res := decode[diagnosis.Result](t, env.diagnose(t, map[string]string{"user_explanation": "x", "user_id": "u1"}, nil))

	path := fmt.Sprintf("/api/diagnostic/%d", res.DiagnosisID)
	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodDelete, path)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, msgDeleted, decode[map[string]string](t, rec)["message"])
	}

	rows, err := env.store.Diagnoses().ListBySession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rec := env.do(http.MethodDelete, "/api/diagnostic/abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, msgInvalidID, body["message"])
	assert.Equal(t, "id", body["field"])
}

func TestRequestIDAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(headerRequestID))

	rec = env.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `learndebug_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/diagnose", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
