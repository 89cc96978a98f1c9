package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"hookrelay/internal/cache"
	"hookrelay/internal/store"
	"hookrelay/internal/worker"
	"hookrelay/types"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const defaultAttemptsLimit = 20

// Handler exposes the boundary operations over HTTP: subscription CRUD,
// ingestion, delivery status and attempt history.
type Handler struct {
	store      store.Store
	cache      *cache.SubscriptionCache
	dispatcher *worker.Dispatcher
}

// NewHandler wires the handler with its injected collaborators.
func NewHandler(st store.Store, c *cache.SubscriptionCache, d *worker.Dispatcher) *Handler {
	return &Handler{store: st, cache: c, dispatcher: d}
}

func (h *Handler) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type subscriptionCreate struct {
	TargetURL  string   `json:"target_url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types"`
}

func (h *Handler) createSubscription(c echo.Context) error {
	var req subscriptionCreate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request payload")
	}
	if req.TargetURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_url is required")
	}

	now := time.Now().UTC()
	sub := &types.Subscription{
		ID:         uuid.New(),
		TargetURL:  req.TargetURL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.store.CreateSubscription(c.Request().Context(), sub); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to create subscription: %v", err))
	}
	h.cache.Put(c.Request().Context(), sub)

	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) getSubscription(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	sub, err := h.cache.Get(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get subscription")
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) listSubscriptions(c echo.Context) error {
	limit := queryInt(c, "limit", 100)
	offset := queryInt(c, "offset", 0)
	subs, err := h.store.ListSubscriptions(c.Request().Context(), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list subscriptions")
	}
	if subs == nil {
		subs = []types.Subscription{}
	}
	return c.JSON(http.StatusOK, subs)
}

type subscriptionUpdate struct {
	TargetURL  *string   `json:"target_url"`
	Secret     *string   `json:"secret"`
	EventTypes *[]string `json:"event_types"`
	Active     *bool     `json:"active"`
}

func (h *Handler) updateSubscription(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var req subscriptionUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request payload")
	}

	ctx := c.Request().Context()
	sub, err := h.store.GetSubscription(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get subscription")
	}

	if req.TargetURL != nil {
		sub.TargetURL = *req.TargetURL
	}
	if req.Secret != nil {
		sub.Secret = *req.Secret
	}
	if req.EventTypes != nil {
		sub.EventTypes = *req.EventTypes
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateSubscription(ctx, sub); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update subscription")
	}
	// Refresh the cached copy so readers see the update within the TTL.
	h.cache.Put(ctx, sub)

	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.store.DeleteSubscription(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete subscription")
	}
	h.cache.Invalidate(ctx, id)

	return c.JSON(http.StatusOK, map[string]string{"message": "subscription deleted"})
}

// ingest accepts a webhook payload for a subscription and queues the first
// delivery attempt. The response carries the webhook id; delivery happens
// asynchronously.
func (h *Handler) ingest(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	var payload json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}

	eventType := c.Request().Header.Get("X-Event-Type")

	webhookID, err := h.dispatcher.Ingest(c.Request().Context(), id, payload, eventType)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	case errors.Is(err, worker.ErrInactiveSubscription):
		return echo.NewHTTPError(http.StatusBadRequest, "subscription is inactive")
	case errors.Is(err, worker.ErrEventTypeNotAllowed):
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("event type %s not allowed for this subscription", eventType))
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to queue webhook delivery")
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"webhook_id": webhookID.String(),
		"message":    "webhook queued for delivery",
	})
}

// deliveryStatus answers a latest-status query for a webhook id.
func (h *Handler) deliveryStatus(c echo.Context) error {
	webhookID, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	latest, err := h.store.LatestAttempt(c.Request().Context(), webhookID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "webhook not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get delivery status")
	}

	return c.JSON(http.StatusOK, types.StatusSummary{
		WebhookID:    latest.WebhookID,
		Status:       latest.Status,
		Attempts:     latest.AttemptNumber,
		LastAttempt:  latest.Timestamp,
		ErrorMessage: latest.ErrorMessage,
	})
}

// subscriptionAttempts returns the most recent delivery attempts for a
// subscription, newest first.
func (h *Handler) subscriptionAttempts(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.cache.Get(ctx, id); errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get subscription")
	}

	limit := queryInt(c, "limit", defaultAttemptsLimit)
	attempts, err := h.store.RecentAttempts(ctx, id, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query delivery attempts")
	}
	if attempts == nil {
		attempts = []types.DeliveryAttempt{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"subscription_id": id,
		"count":           len(attempts),
		"attempts":        attempts,
	})
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id format")
	}
	return id, nil
}

func queryInt(c echo.Context, name string, fallback int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
