package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/organizer/internal/auth"
	"github.com/dukerupert/organizer/internal/push"
	"github.com/dukerupert/organizer/internal/store"
)

type NotificationHandler struct {
	userStore      *store.UserStore
	pushStore      *store.PushStore
	sender         push.Sender
	vapidPublicKey string
	logger         *slog.Logger
}

func NewNotificationHandler(us *store.UserStore, ps *store.PushStore, sender push.Sender, vapidPublicKey string, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		userStore:      us,
		pushStore:      ps,
		sender:         sender,
		vapidPublicKey: vapidPublicKey,
		logger:         logger,
	}
}

type subscriptionPayload struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime *int64 `json:"expirationTime"`
	Keys           struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type subscribeRequest struct {
	Subscription *subscriptionPayload `json:"subscription"`
}

// Subscribe handles POST /api/notifications/subscribe. The caller's stored
// subscription, if any, is overwritten.
func (h *NotificationHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	sub := req.Subscription
	if sub == nil || sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid subscription object"})
		return
	}

	user, err := h.userStore.GetByID(userID)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save subscription"})
		return
	}
	if user == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	var expiration *time.Time
	if sub.ExpirationTime != nil {
		e := time.UnixMilli(*sub.ExpirationTime).UTC()
		expiration = &e
	}

	if _, err := h.pushStore.Upsert(userID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, expiration); err != nil {
		h.logger.Error("save subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save subscription"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "subscription saved successfully"})
}

type endpointRequest struct {
	Endpoint string `json:"endpoint"`
}

// CheckSubscription handles POST /api/notifications/check-subscription.
// Compares channel identity only; key material is not inspected.
func (h *NotificationHandler) CheckSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	sub, err := h.pushStore.GetByUser(userID)
	if err != nil {
		h.logger.Error("check subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to check subscription"})
		return
	}

	isSubscribed := sub != nil && sub.Endpoint == req.Endpoint
	writeJSON(w, http.StatusOK, map[string]bool{"isSubscribed": isSubscribed})
}

// Unsubscribe handles POST /api/notifications/unsubscribe. Clears the stored
// subscription when its endpoint matches; a no-op otherwise, so calling it
// twice never errors.
func (h *NotificationHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	user, err := h.userStore.GetByID(userID)
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to remove subscription"})
		return
	}
	if user == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	if err := h.pushStore.DeleteIfEndpoint(userID, req.Endpoint); err != nil {
		h.logger.Error("remove subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to remove subscription"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "unsubscribed successfully"})
}

type sendRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Send handles POST /api/notifications/send: a direct push to the caller's
// own subscription.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	sub, err := h.pushStore.GetByUser(userID)
	if err != nil {
		h.logger.Error("get subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to send notification"})
		return
	}
	if sub == nil || sub.Endpoint == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no subscription found"})
		return
	}

	if err := h.sender.Send(sub, push.Payload{Title: req.Title, Message: req.Message}); err != nil {
		if errors.Is(err, push.ErrSubscriptionGone) || errors.Is(err, push.ErrInvalidSubscription) {
			if derr := h.pushStore.DeleteByUser(userID); derr != nil {
				h.logger.Error("clear subscription", "user_id", userID, "error", derr)
			}
		}
		h.logger.Error("send notification", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to send notification"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "notification sent"})
}

// VAPIDKey handles GET /api/notifications/vapid-key so the client can
// subscribe without a baked-in key.
func (h *NotificationHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidPublicKey})
}
