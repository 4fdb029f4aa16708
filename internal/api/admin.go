package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/draycott/session-core/internal/audit"
)

// forceLogoutRequest is the optional body for POST /api/admin/users/{id}/force-logout.
type forceLogoutRequest struct {
	Message string `json:"message"`
}

// handleForceLogout revokes every refresh token for the target user and tells
// their connected clients to drop the session immediately.
func (s *Server) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeBadRequest(w, "user id is required")
		return
	}

	// Body is optional; a missing or empty body means no operator message.
	var req forceLogoutRequest
	//nolint:errcheck // Absent body is fine; Message stays empty
	json.NewDecoder(r.Body).Decode(&req)

	actor := userFrom(r)
	revoked, err := s.sessions.ForceLogout(r.Context(), userID, actor.Username)
	if err != nil {
		s.logger.Error("force logout failed", "user_id", userID, "error", err)
		writeInternalError(w, "force logout failed")
		return
	}

	var payload map[string]string
	if req.Message != "" {
		payload = map[string]string{"message": req.Message}
	}
	notified := s.hub.SendToUser(userID, EventForceLogout, payload)

	// Fan out to other processes serving this user's connections
	s.publishSessionEvent(userID, EventForceLogout, payload)

	writeJSON(w, http.StatusOK, map[string]any{
		"revoked_tokens":   revoked,
		"notified_clients": notified,
	})
}

// handlePermissionsUpdated tells the target user's connected clients to
// re-fetch their user record. Tokens stay valid; new roles land on the next
// refresh rotation.
func (s *Server) handlePermissionsUpdated(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeBadRequest(w, "user id is required")
		return
	}

	notified := s.hub.SendToUser(userID, EventPermissionsUpdated, nil)
	s.publishSessionEvent(userID, EventPermissionsUpdated, nil)

	if s.audit != nil {
		actor := userFrom(r)
		entry := &audit.AuditLog{
			UserID:   userID,
			Action:   audit.ActionPermissionsUpdated,
			Detail:   "by " + actor.Username,
			Success:  true,
			Username: actor.Username,
		}
		if err := s.audit.Create(r.Context(), entry); err != nil {
			s.logger.Warn("audit write failed", "action", entry.Action, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notified_clients": notified,
	})
}

// handleAuditList returns audit trail entries, newest first.
//
// Query parameters: action, user_id, username, limit, offset.
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		UserID:   q.Get("user_id"),
		Username: q.Get("username"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeInternalError(w, "audit query failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
