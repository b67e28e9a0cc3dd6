package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/organizer/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var userID sql.NullInt64
	var categories string
	var dueDate sql.NullTime

	err := scanner.Scan(
		&t.ID, &userID, &t.Title, &t.Description, &categories,
		&dueDate, &t.Priority, &t.Status, &t.Alarm, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		t.UserID = &userID.Int64
	}
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	if err := json.Unmarshal([]byte(categories), &t.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if t.Categories == nil {
		t.Categories = []string{}
	}
	return &t, nil
}

const taskCols = `id, user_id, title, description, categories, due_date, priority, status, alarm, created_at`

func encodeCategories(categories []string) (string, error) {
	if categories == nil {
		categories = []string{}
	}
	data, err := json.Marshal(categories)
	if err != nil {
		return "", fmt.Errorf("encode categories: %w", err)
	}
	return string(data), nil
}

func (s *TaskStore) Create(userID *int64, title, description string, categories []string, dueDate *time.Time, priority, status string, alarm bool) (*model.Task, error) {
	var uID sql.NullInt64
	if userID != nil {
		uID = sql.NullInt64{Int64: *userID, Valid: true}
	}
	var due sql.NullTime
	if dueDate != nil {
		due = sql.NullTime{Time: dueDate.UTC(), Valid: true}
	}
	cats, err := encodeCategories(categories)
	if err != nil {
		return nil, err
	}

	result, err := s.db.Exec(
		`INSERT INTO tasks (user_id, title, description, categories, due_date, priority, status, alarm)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uID, title, description, cats, due, priority, status, alarm,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) GetByID(id int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListByUser returns the user's tasks, newest first.
func (s *TaskStore) ListByUser(userID int64) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *TaskStore) Update(id int64, title, description string, categories []string, dueDate *time.Time, priority, status string, alarm bool) (*model.Task, error) {
	var due sql.NullTime
	if dueDate != nil {
		due = sql.NullTime{Time: dueDate.UTC(), Valid: true}
	}
	cats, err := encodeCategories(categories)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		`UPDATE tasks SET title = ?, description = ?, categories = ?, due_date = ?, priority = ?, status = ?, alarm = ?
		 WHERE id = ?`,
		title, description, cats, due, priority, status, alarm, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// Reminder is a due task joined with its owner's current push subscription.
// Subscription is nil when the owner has none (or the task is unowned).
type Reminder struct {
	Task         model.Task
	Subscription *model.PushSubscription
}

// ListDueBetween returns alarmed tasks whose due date falls in [start, end),
// each joined with the owner's subscription as of this read. The result is a
// snapshot: subscription rows cleared later in the same sweep are still
// present on reminders read here.
func (s *TaskStore) ListDueBetween(start, end time.Time) ([]Reminder, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.user_id, t.title, t.description, t.categories, t.due_date,
		        t.priority, t.status, t.alarm, t.created_at,
		        p.id, p.user_id, p.endpoint, p.p256dh_key, p.auth_key, p.expiration_time, p.created_at
		 FROM tasks t
		 LEFT JOIN push_subscriptions p ON p.user_id = t.user_id
		 WHERE t.alarm = 1 AND t.due_date IS NOT NULL AND t.due_date >= ? AND t.due_date < ?`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var t model.Task
		var userID sql.NullInt64
		var categories string
		var dueDate sql.NullTime
		var subID, subUserID sql.NullInt64
		var endpoint, p256dh, authKey sql.NullString
		var expiration, subCreated sql.NullTime

		err := rows.Scan(
			&t.ID, &userID, &t.Title, &t.Description, &categories,
			&dueDate, &t.Priority, &t.Status, &t.Alarm, &t.CreatedAt,
			&subID, &subUserID, &endpoint, &p256dh, &authKey, &expiration, &subCreated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}

		if userID.Valid {
			t.UserID = &userID.Int64
		}
		if dueDate.Valid {
			d := dueDate.Time
			t.DueDate = &d
		}
		if err := json.Unmarshal([]byte(categories), &t.Categories); err != nil {
			return nil, fmt.Errorf("decode categories: %w", err)
		}

		r := Reminder{Task: t}
		if subID.Valid {
			sub := model.PushSubscription{
				ID:        subID.Int64,
				UserID:    subUserID.Int64,
				Endpoint:  endpoint.String,
				P256dhKey: p256dh.String,
				AuthKey:   authKey.String,
			}
			if expiration.Valid {
				e := expiration.Time
				sub.ExpirationTime = &e
			}
			if subCreated.Valid {
				sub.CreatedAt = subCreated.Time
			}
			r.Subscription = &sub
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}
