package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizfin-insight/internal/ai"
	"bizfin-insight/internal/app"
	"bizfin-insight/internal/eventlog"
	"bizfin-insight/internal/model"
	"bizfin-insight/internal/pkg/jwtutil"
	"bizfin-insight/internal/role"
	"bizfin-insight/internal/transport/http/middleware"
	"bizfin-insight/internal/transport/http/response"
)

const testSecret = "handler-test-secret"

type stubCompleter struct {
	content string
	err     error
}

func (s *stubCompleter) Name() string { return "stub" }

func (s *stubCompleter) Complete(context.Context, ai.CompletionRequest) (*ai.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ai.CompletionResponse{Content: s.content, Model: "stub-model"}, nil
}

type userStore struct {
	mu    sync.Mutex
	users []model.User
}

func (s *userStore) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = uint(len(s.users) + 1)
	s.users = append(s.users, *u)
	return nil
}

func (s *userStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *userStore) GetByID(_ context.Context, id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, nil
}

type docStore struct {
	mu   sync.Mutex
	docs map[string]model.Document
}

func (s *docStore) Create(_ context.Context, d *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.ID] = *d
	return nil
}

func (s *docStore) UpdateRAGStatus(_ context.Context, id, status, vectorDocumentID string, chunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[id]
	d.RAGStatus, d.VectorDocumentID, d.ChunksStored = status, vectorDocumentID, chunks
	s.docs[id] = d
	return nil
}

func (s *docStore) ListByUserID(_ context.Context, userID uint) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, d := range s.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *docStore) GetByID(_ context.Context, id string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *docStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

type testEnv struct {
	router    *gin.Engine
	completer *stubCompleter
	hub       *eventlog.Hub
	docs      *docStore
}

func newTestEnv(t *testing.T, maxUpload int64) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		completer: &stubCompleter{content: "Key Insight: revenue grew steadily across the quarter"},
		hub:       eventlog.NewHub(100, nil),
		docs:      &docStore{docs: map[string]model.Document{}},
	}
	authSvc := app.NewAuthService(&userStore{}, testSecret, time.Hour)
	analysisSvc := app.NewAnalysisService(env.completer, nil, env.hub, 5)
	uploadSvc := app.NewUploadService(env.docs, nil, env.hub, maxUpload)
	documentSvc := app.NewDocumentService(env.docs, nil, env.hub)

	authH := NewAuthHandler(authSvc)
	analysisH := NewAnalysisHandler(analysisSvc)
	uploadH := NewUploadHandler(uploadSvc)
	documentH := NewDocumentHandler(documentSvc)
	devH := NewDevConsoleHandler(env.hub, nil)

	r := gin.New()
	auth := middleware.AuthJWT(testSecret)
	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", authH.Register)
	v1.POST("/auth/login", authH.Login)
	v1.GET("/auth/me", auth, authH.Me)
	v1.POST("/upload/financial-data", auth, uploadH.FinancialData)
	v1.GET("/documents", auth, documentH.List)
	v1.DELETE("/documents/:id", auth, middleware.RequireRole(role.IntermediateStaff), documentH.Delete)
	v1.POST("/analysis/query", auth, analysisH.Query)
	v1.POST("/analysis/query/stream", auth, analysisH.QueryStream)
	v1.POST("/analysis/report", auth, analysisH.Report)
	v1.GET("/analysis/capabilities/:role", auth, analysisH.Capabilities)
	dev := r.Group("/dev-console", auth, middleware.RequireRole(role.DepartmentalHead))
	dev.GET("/logs", devH.Logs)
	dev.DELETE("/logs", devH.Clear)
	dev.GET("/stats", devH.Stats)
	dev.GET("/history", devH.History)

	env.router = r
	return env
}

func tokenFor(t *testing.T, id uint, r role.Role) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, jwtutil.Identity{
		UserID:   id,
		Username: "user",
		Role:     string(r),
	})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, response.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp response.APIResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func dataMap(t *testing.T, resp response.APIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	w, resp := env.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "alice", "password": "supersecret", "department": "Finance",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token := dataMap(t, resp)["token"].(string)
	require.NotEmpty(t, token)

	w, resp = env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := dataMap(t, resp)
	assert.Equal(t, "alice", me["username"])
	assert.Equal(t, string(role.JuniorStaff), me["role"])

	w, resp = env.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "alice", "password": "supersecret",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeUsernameExists, resp.Code)

	w, resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "alice", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeInvalidCredentials, resp.Code)
	assert.False(t, resp.Success)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	w, resp := env.do(t, http.MethodPost, "/api/v1/analysis/query", "", gin.H{"query": "q"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeUnauthorized, resp.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/auth/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQueryReturnsAnalysis(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := tokenFor(t, 1, role.IntermediateStaff)

	w, resp := env.do(t, http.MethodPost, "/api/v1/analysis/query", token, gin.H{
		"query":         "How did revenue trend?",
		"financialData": gin.H{"revenue": 1200},
	})
	require.Equal(t, http.StatusOK, w.Code)
	out := dataMap(t, resp)
	assert.Equal(t, string(role.IntermediateStaff), out["role"])
	assert.Contains(t, out["content"], "revenue grew")
	assert.NotEmpty(t, out["insights"])
}

func TestQueryRejectsRoleEscalation(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := tokenFor(t, 1, role.JuniorStaff)

	w, resp := env.do(t, http.MethodPost, "/api/v1/analysis/query", token, gin.H{
		"query":    "show everything",
		"userRole": string(role.DepartmentalHead),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.CodeForbidden, resp.Code)
}

func TestQueryRequiresQuery(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	w, resp := env.do(t, http.MethodPost, "/api/v1/analysis/query", tokenFor(t, 1, role.JuniorStaff), gin.H{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeBadRequest, resp.Code)
}

func TestProviderErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		kind   ai.ErrorKind
		status int
		code   int
	}{
		{ai.KindConfiguration, http.StatusInternalServerError, response.CodeProviderConfig},
		{ai.KindAuthentication, http.StatusBadGateway, response.CodeProviderAuth},
		{ai.KindRateLimited, http.StatusTooManyRequests, response.CodeRateLimited},
		{ai.KindUnavailable, http.StatusServiceUnavailable, response.CodeProviderUnavailable},
		{ai.KindUnknown, http.StatusInternalServerError, response.CodeAnalysisFailed},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			env := newTestEnv(t, 1<<20)
			env.completer.err = &ai.ProviderError{Provider: "stub", Kind: tc.kind, Message: "upstream said no"}

			w, resp := env.do(t, http.MethodPost, "/api/v1/analysis/query", tokenFor(t, 1, role.JuniorStaff), gin.H{"query": "q"})
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, resp.Code)
			assert.NotContains(t, resp.Error, "upstream said no")
		})
	}
}

func TestReportUsesEffectiveRole(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	env.completer.content = "# Report"
	token := tokenFor(t, 1, role.DepartmentalHead)

	w, resp := env.do(t, http.MethodPost, "/api/v1/analysis/report", token, gin.H{
		"financialData": gin.H{"revenue": 1},
		"userRole":      string(role.IntermediateStaff),
	})
	require.Equal(t, http.StatusOK, w.Code)
	out := dataMap(t, resp)
	assert.Equal(t, "# Report", out["report"])
	assert.Equal(t, string(role.IntermediateStaff), out["userRole"])

	w, _ = env.do(t, http.MethodPost, "/api/v1/analysis/report", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportRateLimited(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	env.completer.err = &ai.ProviderError{Provider: "stub", Kind: ai.KindRateLimited}

	w, resp := env.do(t, http.MethodPost, "/api/v1/analysis/report", tokenFor(t, 1, role.JuniorStaff), gin.H{
		"financialData": gin.H{"revenue": 1},
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.CodeRateLimited, resp.Code)
}

func TestQueryStreamSendsDone(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	env.completer.content = "line one\nline two"

	w, _ := env.do(t, http.MethodPost, "/api/v1/analysis/query/stream", tokenFor(t, 1, role.JuniorStaff), gin.H{"query": "q"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "data: line one\\nline two\n\n")
	assert.Contains(t, body, "event: done\n")
}

func TestQueryStreamSendsErrorEvent(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	env.completer.err = &ai.ProviderError{Provider: "stub", Kind: ai.KindUnavailable}

	w, _ := env.do(t, http.MethodPost, "/api/v1/analysis/query/stream", tokenFor(t, 1, role.JuniorStaff), gin.H{"query": "q"})
	assert.Contains(t, w.Body.String(), "event: error\n")
	assert.NotContains(t, w.Body.String(), "event: done")
}

func TestCapabilities(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	w, resp := env.do(t, http.MethodGet, "/api/v1/analysis/capabilities/Departmental%20Head", tokenFor(t, 1, role.JuniorStaff), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, dataMap(t, resp))
}

func uploadRequest(t *testing.T, token, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload/financial-data", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadCSVAndListDocuments(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := tokenFor(t, 7, role.JuniorStaff)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, uploadRequest(t, token, "Q1 Sales.csv", []byte("month,revenue\nJan,100\nFeb,120\n")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	out := dataMap(t, resp)
	assert.Equal(t, "Q1 Sales.csv", out["filename"])
	assert.True(t, strings.HasPrefix(out["documentId"].(string), "doc_"))
	assert.Equal(t, model.RAGStatusFailed, out["ragStatus"])

	w2, listResp := env.do(t, http.MethodGet, "/api/v1/documents", token, nil)
	require.Equal(t, http.StatusOK, w2.Code)
	docs, ok := listResp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, docs, 1)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, uploadRequest(t, tokenFor(t, 1, role.JuniorStaff), "notes.txt", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.CodeUnsupportedFile, resp.Code)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, 16)
	big := bytes.Repeat([]byte("a,b\n1,2\n"), 64)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, uploadRequest(t, tokenFor(t, 1, role.JuniorStaff), "big.csv", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadMissingFile(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	w, resp := env.do(t, http.MethodPost, "/api/v1/upload/financial-data", tokenFor(t, 1, role.JuniorStaff), gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeBadRequest, resp.Code)
}

func TestDeleteDocumentRequiresIntermediate(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	env.docs.docs["doc_1"] = model.Document{ID: "doc_1", UserID: 3, RAGStatus: model.RAGStatusFailed}

	w, _ := env.do(t, http.MethodDelete, "/api/v1/documents/doc_1", tokenFor(t, 3, role.JuniorStaff), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = env.do(t, http.MethodDelete, "/api/v1/documents/doc_1", tokenFor(t, 3, role.IntermediateStaff), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.docs.docs)

	w, resp := env.do(t, http.MethodDelete, "/api/v1/documents/doc_1", tokenFor(t, 3, role.IntermediateStaff), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeDocumentNotFound, resp.Code)
}

func TestDevConsoleAccess(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	env.hub.Record(context.Background(), eventlog.TypeLLM, "request", nil)
	env.hub.Record(context.Background(), eventlog.TypeVector, "search", nil)

	w, _ := env.do(t, http.MethodGet, "/dev-console/logs", tokenFor(t, 1, role.IntermediateStaff), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	head := tokenFor(t, 2, role.DepartmentalHead)
	w, resp := env.do(t, http.MethodGet, "/dev-console/logs?type=llm", head, nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, logs, 1)

	w, _ = env.do(t, http.MethodGet, "/dev-console/logs?startTime=yesterday", head, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = env.do(t, http.MethodGet, "/dev-console/stats", head, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, dataMap(t, resp)["total"])

	w, _ = env.do(t, http.MethodDelete, "/dev-console/logs", head, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.hub.Logs(eventlog.Filter{}))

	w, _ = env.do(t, http.MethodGet, "/dev-console/history", head, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSanitizeSSE(t *testing.T) {
	assert.Equal(t, `a\nb\nc`, sanitizeSSE("a\r\nb\nc"))
}
