package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/organizer/internal/handler"
	"github.com/dukerupert/organizer/internal/middleware"
	"github.com/dukerupert/organizer/internal/push"
	"github.com/dukerupert/organizer/internal/store"
)

type Server struct {
	db            *sql.DB
	taskH         *handler.TaskHandler
	notificationH *handler.NotificationHandler
	authH         *handler.AuthHandler
	sessionStore  *store.SessionStore
	rateLimiter   *middleware.RateLimiter
	pushScheduler *push.Scheduler
	logger        *slog.Logger
}

func New(db *sql.DB, pushCfg push.Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	taskStore := store.NewTaskStore(db)
	pushStore := store.NewPushStore(db)

	// Push service + reminder scheduler; disabled without VAPID keys.
	var pushSvc *push.Service
	var sender push.Sender
	var pushSched *push.Scheduler
	vapidPublicKey := ""
	if pushCfg.VAPIDPublicKey != "" && pushCfg.VAPIDPrivateKey != "" {
		pushSvc = push.NewService(pushCfg)
		sender = pushSvc
		vapidPublicKey = pushSvc.VAPIDPublicKey()
		pushSched = push.NewScheduler(pushSvc, taskStore, pushStore, logger.With("component", "push"))
	}

	return &Server{
		db:            db,
		taskH:         handler.NewTaskHandler(taskStore, pushStore, sender, logger.With("component", "task")),
		notificationH: handler.NewNotificationHandler(userStore, pushStore, sender, vapidPublicKey, logger.With("component", "notification")),
		authH:         handler.NewAuthHandler(userStore, sessionStore, pushStore, logger.With("component", "auth")),
		sessionStore:  sessionStore,
		rateLimiter:   middleware.NewRateLimiter(),
		pushScheduler: pushSched,
		logger:        logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// PushScheduler returns the reminder scheduler, or nil when push is not
// configured.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/users/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/users/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /login", s.loginPage)
	outerMux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir("web/static"))))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes — wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users/logout", s.authH.Logout)

	// Task API routes
	mux.HandleFunc("POST /api/tasks/add", s.taskH.Create)
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.taskH.Update)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Delete)

	// Notification API routes
	mux.HandleFunc("POST /api/notifications/subscribe", s.notificationH.Subscribe)
	mux.HandleFunc("POST /api/notifications/check-subscription", s.notificationH.CheckSubscription)
	mux.HandleFunc("POST /api/notifications/unsubscribe", s.notificationH.Unsubscribe)
	mux.HandleFunc("POST /api/notifications/send", s.notificationH.Send)
	mux.HandleFunc("GET /api/notifications/vapid-key", s.notificationH.VAPIDKey)

	// App shell
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/static/index.html")
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, "web/static/login.html")
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
