package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/organizer/internal/auth"
	"github.com/dukerupert/organizer/internal/store"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "organizer_session"

// RequireAuth validates the session cookie and populates AuthContext.
// API clients that accept JSON get a 401 body; browsers get a redirect
// to the login page.
func RequireAuth(sessionStore *store.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				rejectUnauthenticated(w, r)
				return
			}

			sess, err := sessionStore.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				rejectUnauthenticated(w, r)
				return
			}

			ac := auth.AuthContext{
				UserID:    sess.UserID,
				SessionID: sess.ID,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"})
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
