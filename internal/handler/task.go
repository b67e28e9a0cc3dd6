package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/organizer/internal/auth"
	"github.com/dukerupert/organizer/internal/model"
	"github.com/dukerupert/organizer/internal/push"
	"github.com/dukerupert/organizer/internal/store"
)

type TaskHandler struct {
	taskStore *store.TaskStore
	pushStore *store.PushStore
	sender    push.Sender
	logger    *slog.Logger
}

// NewTaskHandler creates the task CRUD handler. sender may be nil when push
// is not configured; notifications are then skipped.
func NewTaskHandler(ts *store.TaskStore, ps *store.PushStore, sender push.Sender, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{taskStore: ts, pushStore: ps, sender: sender, logger: logger}
}

type createTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	DueDate     string   `json:"dueDate"`
	Priority    string   `json:"priority"`
	Status      string   `json:"status"`
	Alarm       bool     `json:"alarm"`
}

// Create handles POST /api/tasks/add
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || req.Description == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title and description are required"})
		return
	}

	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid dueDate format"})
		return
	}

	if req.Priority == "" {
		req.Priority = model.PriorityLow
	}
	if !model.ValidPriority(req.Priority) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "priority must be one of: low, medium, high"})
		return
	}
	if req.Status == "" {
		req.Status = model.StatusNotStarted
	}
	if !model.ValidStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be one of: Not Started, In Progress, Completed"})
		return
	}

	task, err := h.taskStore.Create(&userID, req.Title, req.Description, req.Categories, dueDate, req.Priority, req.Status, req.Alarm)
	if err != nil {
		h.logger.Error("create task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
		return
	}

	h.notify(userID, "New Task Added", fmt.Sprintf("Task %q has been added successfully.", task.Title))

	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

// List handles GET /api/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	tasks, err := h.taskStore.ListByUser(userID)
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type updateTaskRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Categories  *[]string `json:"categories"`
	DueDate     *string   `json:"dueDate"`
	Priority    *string   `json:"priority"`
	Status      *string   `json:"status"`
	Alarm       *bool     `json:"alarm"`
}

// Update handles PATCH /api/tasks/{id} with a partial field update.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.taskStore.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	title := existing.Title
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
		if title == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
			return
		}
	}
	description := existing.Description
	if req.Description != nil {
		description = *req.Description
	}
	categories := existing.Categories
	if req.Categories != nil {
		categories = *req.Categories
	}
	dueDate := existing.DueDate
	if req.DueDate != nil {
		dueDate, err = parseDueDate(*req.DueDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid dueDate format"})
			return
		}
	}
	priority := existing.Priority
	if req.Priority != nil {
		priority = *req.Priority
		if !model.ValidPriority(priority) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "priority must be one of: low, medium, high"})
			return
		}
	}
	status := existing.Status
	if req.Status != nil {
		status = *req.Status
		if !model.ValidStatus(status) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be one of: Not Started, In Progress, Completed"})
			return
		}
	}
	alarm := existing.Alarm
	if req.Alarm != nil {
		alarm = *req.Alarm
	}

	task, err := h.taskStore.Update(id, title, description, categories, dueDate, priority, status, alarm)
	if err != nil {
		h.logger.Error("update task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update task"})
		return
	}

	h.notify(userID, "Task Updated", fmt.Sprintf("Task %q has been updated.", task.Title))

	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

// Delete handles DELETE /api/tasks/{id}. No notification.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	existing, err := h.taskStore.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	if err := h.taskStore.Delete(id); err != nil {
		h.logger.Error("delete task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete task"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "task removed"})
}

// notify sends a best-effort push to the user's subscription. Failures are
// logged and swallowed; the triggering request already succeeded. A
// permanently dead channel is dropped here too, same as during the sweep.
func (h *TaskHandler) notify(userID int64, title, message string) {
	if h.sender == nil {
		return
	}

	sub, err := h.pushStore.GetByUser(userID)
	if err != nil {
		h.logger.Error("look up subscription", "user_id", userID, "error", err)
		return
	}
	if !sub.Valid() {
		h.logger.Debug("no subscription for user", "user_id", userID)
		return
	}

	err = h.sender.Send(sub, push.Payload{Title: title, Message: message})
	if err != nil {
		if errors.Is(err, push.ErrSubscriptionGone) || errors.Is(err, push.ErrInvalidSubscription) {
			if derr := h.pushStore.DeleteByUser(userID); derr != nil {
				h.logger.Error("clear subscription", "user_id", userID, "error", derr)
			}
			return
		}
		h.logger.Error("send notification", "user_id", userID, "error", err)
	}
}

// parseDueDate accepts RFC 3339 timestamps or bare calendar dates. An empty
// string means no due date.
func parseDueDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
