package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/dmflow/internal/engine"
	"github.com/ignite/dmflow/internal/logs"
	"github.com/ignite/dmflow/internal/pkg/logger"
	"github.com/ignite/dmflow/internal/ratelimit"
	"github.com/ignite/dmflow/internal/rules"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	rules      *rules.Store
	logs       *logs.Store
	limiter    *ratelimit.DailyLimiter
	dispatcher *engine.Dispatcher
}

// NewHandlers creates a new Handlers instance
func NewHandlers(ruleStore *rules.Store, logStore *logs.Store, limiter *ratelimit.DailyLimiter, dispatcher *engine.Dispatcher) *Handlers {
	return &Handlers{
		rules:      ruleStore,
		logs:       logStore,
		limiter:    limiter,
		dispatcher: dispatcher,
	}
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleCommentEvent is the intake endpoint: one call per observed comment.
// It returns 202 as soon as the pipelines are launched; outcomes land in the
// activity log, not the HTTP response.
func (h *Handlers) HandleCommentEvent(w http.ResponseWriter, r *http.Request) {
	var evt engine.CommentEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if evt.ChannelID == uuid.Nil || evt.CommenterID == "" {
		respondError(w, http.StatusBadRequest, "channel_id and commenter_id are required")
		return
	}
	if evt.CommentedAt.IsZero() {
		evt.CommentedAt = time.Now().UTC()
	}

	if err := h.dispatcher.HandleComment(r.Context(), evt); err != nil {
		logger.Error("comment intake failed", "channel_id", evt.ChannelID, "error", err)
		respondError(w, http.StatusInternalServerError, "event intake failed")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ListRules returns every rule for a channel.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	list, err := h.rules.ListByChannel(r.Context(), channelID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list rules failed")
		return
	}
	if list == nil {
		list = []rules.Rule{}
	}
	respondJSON(w, http.StatusOK, list)
}

// CreateRule saves a new rule after validation.
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}
	rule.ChannelID = channelID
	if rule.Status == "" {
		rule.Status = rules.StatusDraft
	}
	if err := h.rules.Create(r.Context(), &rule); err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "create rule failed")
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// GetRule returns one rule with its runtime stats and today's quota usage.
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	rule, err := h.rules.Get(r.Context(), id)
	if err == rules.ErrNotFound {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "get rule failed")
		return
	}

	used, err := h.limiter.Used(r.Context(), id, ratelimit.DayKey(time.Now()))
	if err != nil {
		logger.Warn("quota lookup failed", "rule_id", id, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rule":       rule,
		"used_today": used,
	})
}

// UpdateRule replaces a rule's configuration.
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}
	rule.ID = id
	if err := h.rules.Update(r.Context(), &rule); err != nil {
		switch {
		case err == rules.ErrNotFound:
			respondError(w, http.StatusNotFound, "rule not found")
		case isValidationError(err):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "update rule failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule. Its log rows stay; retention is external.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	if err := h.rules.Delete(r.Context(), id); err != nil {
		if err == rules.ErrNotFound {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "delete rule failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// QueryLogs is the paginated activity-log view for a rule.
func (h *Handlers) QueryLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	q := logs.Query{RuleID: id}
	if s := r.URL.Query().Get("status"); s != "" {
		q.Outcome = logs.Outcome(s)
		if !q.Outcome.Valid() {
			respondError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	page, err := h.logs.Find(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "log query failed")
		return
	}
	if page.Rows == nil {
		page.Rows = []logs.Entry{}
	}
	respondJSON(w, http.StatusOK, page)
}

func isValidationError(err error) bool {
	return errors.Is(err, rules.ErrEmptyTemplate) ||
		errors.Is(err, rules.ErrInvalidDelay) ||
		errors.Is(err, rules.ErrInvalidWindow) ||
		errors.Is(err, rules.ErrInvalidLimit) ||
		errors.Is(err, rules.ErrInvalidStatus) ||
		errors.Is(err, rules.ErrInvalidTrigger)
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
