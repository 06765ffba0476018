package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkden-lab/taskflow/internal/auth"
)

func newTestRouter(f *fixture) *mux.Router {
	r := mux.NewRouter()
	NewHandlers(f.svc).RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(auth.ContextWithClaims(req.Context(), &auth.Claims{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_CreateAndGet(t *testing.T) {
	f := newFixture(nil)
	r := newTestRouter(f)

	rec := do(t, r, "POST", "/api/tasks", "u1", `{"title":"Buy milk","priority":"HIGH","subtasks":["wallet"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, PriorityHigh, created.Priority)
	assert.Equal(t, StatusPending, created.Status)

	rec = do(t, r, "GET", "/api/tasks/"+created.ID, "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, "GET", "/api/tasks/"+created.ID, "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, "GET", "/api/tasks/does-not-exist", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_ValidationError(t *testing.T) {
	f := newFixture(nil)
	r := newTestRouter(f)

	rec := do(t, r, "POST", "/api/tasks", "u1", `{"title":"","status":"DONE"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Contains(t, body.Fields, "title")
	assert.Contains(t, body.Fields, "status")
}

func TestHandlers_BadBody(t *testing.T) {
	f := newFixture(nil)
	r := newTestRouter(f)

	rec := do(t, r, "POST", "/api/tasks", "u1", `{"title":"x","userId":"u2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "POST", "/api/tasks", "u1", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_Unauthenticated(t *testing.T) {
	f := newFixture(nil)
	r := newTestRouter(f)

	rec := do(t, r, "GET", "/api/tasks", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_ListFilters(t *testing.T) {
	f := newFixture(nil)
	r := newTestRouter(f)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "u1", CreateInput{Title: "a", CategoryID: strPtr("c1")})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "u1", CreateInput{Title: "b", Status: StatusCompleted})
	require.NoError(t, err)

	var got []Task
	rec := do(t, r, "GET", "/api/tasks", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Title, "newest first")

	rec = do(t, r, "GET", "/api/tasks?status=COMPLETED", "u1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Title)

	rec = do(t, r, "GET", "/api/tasks?categoryId=c1", "u1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Title)

	rec = do(t, r, "GET", "/api/tasks?status=DONE", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "GET", "/api/tasks", "u2", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandlers_UpdateToggleDelete(t *testing.T) {
	f := newFixture(nil)
	r := newTestRouter(f)
	task, err := f.svc.Create(context.Background(), "u1", CreateInput{Title: "a", Subtasks: []string{"s"}})
	require.NoError(t, err)

	rec := do(t, r, "PATCH", "/api/tasks/"+task.ID, "u1", `{"status":"COMPLETED"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, StatusCompleted, updated.Status)

	rec = do(t, r, "PATCH", "/api/tasks/"+task.ID+"/subtasks/"+task.Subtasks[0].ID+"/toggle", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Subtask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Completed)

	rec = do(t, r, "DELETE", "/api/tasks/"+task.ID, "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, "DELETE", "/api/tasks/"+task.ID, "u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
