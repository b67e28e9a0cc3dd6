package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dukerupert/organizer/internal/auth"
	"github.com/dukerupert/organizer/internal/database"
	"github.com/dukerupert/organizer/internal/model"
	"github.com/dukerupert/organizer/internal/push"
	"github.com/dukerupert/organizer/internal/store"
)

// stubSender records dispatches and returns a configurable error.
type stubSender struct {
	mu       sync.Mutex
	err      error
	payloads []push.Payload
}

func (s *stubSender) Send(sub *model.PushSubscription, payload push.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return s.err
}

func (s *stubSender) sent() []push.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]push.Payload(nil), s.payloads...)
}

func setupHandlerDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createHandlerUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	result, err := db.Exec(`INSERT INTO users (email, password_hash) VALUES (?, 'h')`, email)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}

func authedRequest(method, target string, body string, userID int64) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID, SessionID: 1}))
}

func setupTaskHandler(t *testing.T) (*TaskHandler, *stubSender, *store.PushStore, *sql.DB) {
	t.Helper()
	db := setupHandlerDB(t)
	sender := &stubSender{}
	ts := store.NewTaskStore(db)
	ps := store.NewPushStore(db)
	h := NewTaskHandler(ts, ps, sender, slog.New(slog.DiscardHandler))
	return h, sender, ps, db
}

func TestTaskCreateWithSubscription(t *testing.T) {
	h, sender, ps, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")
	ps.Upsert(uid, "https://push.example.com/alice", "k", "a", nil)

	body := `{"title":"Pay rent","description":"monthly","dueDate":"2025-01-05","alarm":true}`
	req := authedRequest("POST", "/api/tasks/add", body, uid)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp struct {
		Task model.Task `json:"task"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Task.Status != model.StatusNotStarted {
		t.Errorf("status = %q, want %q", resp.Task.Status, model.StatusNotStarted)
	}
	if resp.Task.Priority != model.PriorityLow {
		t.Errorf("priority = %q, want %q", resp.Task.Priority, model.PriorityLow)
	}
	if !resp.Task.Alarm {
		t.Error("expected alarm to be set")
	}
	if resp.Task.DueDate == nil {
		t.Error("expected due date to be set")
	}

	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(sent))
	}
	if sent[0].Title != "New Task Added" {
		t.Errorf("payload title = %q, want %q", sent[0].Title, "New Task Added")
	}
	if !strings.Contains(sent[0].Message, "Pay rent") {
		t.Errorf("payload message = %q, want task title", sent[0].Message)
	}
}

func TestTaskCreateMissingFields(t *testing.T) {
	h, sender, _, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	for _, body := range []string{
		`{"description":"no title"}`,
		`{"title":"no description"}`,
		`{"title":"   ","description":"blank title"}`,
	} {
		req := authedRequest("POST", "/api/tasks/add", body, uid)
		rec := httptest.NewRecorder()
		h.Create(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
	if n := len(sender.sent()); n != 0 {
		t.Errorf("dispatches = %d, want 0", n)
	}
}

func TestTaskCreateBadDueDate(t *testing.T) {
	h, _, _, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	body := `{"title":"t","description":"d","dueDate":"not-a-date"}`
	req := authedRequest("POST", "/api/tasks/add", body, uid)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTaskCreateRejectsUnknownEnums(t *testing.T) {
	h, _, _, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	for _, body := range []string{
		`{"title":"t","description":"d","priority":"urgent"}`,
		`{"title":"t","description":"d","status":"Done"}`,
	} {
		req := authedRequest("POST", "/api/tasks/add", body, uid)
		rec := httptest.NewRecorder()
		h.Create(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestTaskCreateNoSubscriptionStillSucceeds(t *testing.T) {
	h, sender, _, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	body := `{"title":"t","description":"d"}`
	req := authedRequest("POST", "/api/tasks/add", body, uid)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if n := len(sender.sent()); n != 0 {
		t.Errorf("dispatches = %d, want 0", n)
	}
}

func TestTaskCreateDispatchFailureSwallowed(t *testing.T) {
	h, sender, ps, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")
	ps.Upsert(uid, "https://push.example.com/alice", "k", "a", nil)
	sender.err = push.ErrSubscriptionGone

	body := `{"title":"t","description":"d"}`
	req := authedRequest("POST", "/api/tasks/add", body, uid)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	// Notification is best-effort; the create still succeeds and the dead
	// channel is dropped.
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	sub, _ := ps.GetByUser(uid)
	if sub != nil {
		t.Error("expected gone subscription to be cleared")
	}
}

func TestTaskList(t *testing.T) {
	h, _, _, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	for _, title := range []string{"one", "two"} {
		body := `{"title":"` + title + `","description":"d"}`
		rec := httptest.NewRecorder()
		h.Create(rec, authedRequest("POST", "/api/tasks/add", body, uid))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %s: status = %d", title, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.List(rec, authedRequest("GET", "/api/tasks", "", uid))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Tasks []model.Task `json:"tasks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Fatalf("len = %d, want 2", len(resp.Tasks))
	}
	if resp.Tasks[0].Title != "two" {
		t.Errorf("first task = %q, want newest first", resp.Tasks[0].Title)
	}
}

func TestTaskListEmpty(t *testing.T) {
	h, _, _, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	rec := httptest.NewRecorder()
	h.List(rec, authedRequest("GET", "/api/tasks", "", uid))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"tasks":[]`) {
		t.Errorf("body = %s, want empty tasks array", rec.Body.String())
	}
}

func TestTaskUpdatePartial(t *testing.T) {
	h, sender, ps, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	rec := httptest.NewRecorder()
	h.Create(rec, authedRequest("POST", "/api/tasks/add", `{"title":"Draft","description":"keep me"}`, uid))
	var created struct {
		Task model.Task `json:"task"`
	}
	json.NewDecoder(rec.Body).Decode(&created)

	// Subscribe after the create so only the update dispatches.
	ps.Upsert(uid, "https://push.example.com/alice", "k", "a", nil)

	req := authedRequest("PATCH", "/api/tasks/1", `{"status":"Completed"}`, uid)
	req.SetPathValue("id", "1")
	rec = httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Task model.Task `json:"task"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Task.Status != model.StatusCompleted {
		t.Errorf("status = %q, want %q", resp.Task.Status, model.StatusCompleted)
	}
	if resp.Task.Title != "Draft" || resp.Task.Description != "keep me" {
		t.Errorf("untouched fields changed: %+v", resp.Task)
	}

	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(sent))
	}
	if sent[0].Title != "Task Updated" {
		t.Errorf("payload title = %q, want %q", sent[0].Title, "Task Updated")
	}
}

func TestTaskUpdateNotFound(t *testing.T) {
	h, sender, _, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	req := authedRequest("PATCH", "/api/tasks/999", `{"status":"Completed"}`, uid)
	req.SetPathValue("id", "999")
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if n := len(sender.sent()); n != 0 {
		t.Errorf("dispatches = %d, want 0", n)
	}
}

func TestTaskDelete(t *testing.T) {
	h, sender, _, db := setupTaskHandler(t)
	uid := createHandlerUser(t, db, "alice@example.com")

	rec := httptest.NewRecorder()
	h.Create(rec, authedRequest("POST", "/api/tasks/add", `{"title":"t","description":"d"}`, uid))
	before := len(sender.sent())

	req := authedRequest("DELETE", "/api/tasks/1", "", uid)
	req.SetPathValue("id", "1")
	rec = httptest.NewRecorder()
	h.Delete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// Delete sends no notification.
	if n := len(sender.sent()); n != before {
		t.Errorf("dispatches = %d, want %d", n, before)
	}

	req = authedRequest("DELETE", "/api/tasks/1", "", uid)
	req.SetPathValue("id", "1")
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}
