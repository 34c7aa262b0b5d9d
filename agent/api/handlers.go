package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/Agent-Before-Ambulance/agent/agents/orchestrator"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

type agentRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type agentResponse struct {
	Text  string       `json:"text"`
	Stage statex.Stage `json:"stage,omitempty"`
}

type sessionResponse struct {
	SessionID string               `json:"session_id"`
	Stage     statex.Stage         `json:"stage"`
	State     *statex.SessionState `json:"state"`
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func isInvalidSession(err error) bool {
	return errors.Is(err, orchestratorx.ErrInvalidSession) || errors.Is(err, statex.ErrInvalidSession)
}

func (s *Server) newSession(c echo.Context) error {
	id, err := s.sup.NewSession(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("create session failed")
		return errorJSON(c, http.StatusInternalServerError, "could not create session")
	}
	return c.JSON(http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) agent(c echo.Context) error {
	var req agentRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, http.StatusBadRequest, "session_id and message are required")
	}
	if !s.limiter.Allow(req.SessionID) {
		s.metrics.IncRateLimited()
		return errorJSON(c, http.StatusTooManyRequests, "too many messages, please wait a moment")
	}

	ctx := c.Request().Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	turn, err := s.sup.Handle(ctx, req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, orchestratorx.ErrInvalidMessage) || isInvalidSession(err) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, agentResponse{Text: turn.Reply, Stage: turn.Stage})
}

func (s *Server) getSession(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return errorJSON(c, http.StatusBadRequest, "session id is required")
	}
	st, stage, err := s.sup.Session(c.Request().Context(), id)
	if isInvalidSession(err) {
		return errorJSON(c, http.StatusBadRequest, "session id is required")
	}
	if errors.Is(err, statex.ErrStateNotFound) {
		return errorJSON(c, http.StatusNotFound, "session not found")
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("load session failed")
		return errorJSON(c, http.StatusInternalServerError, "could not load session")
	}
	return c.JSON(http.StatusOK, sessionResponse{SessionID: id, Stage: stage, State: st})
}

func (s *Server) deleteSession(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return errorJSON(c, http.StatusBadRequest, "session id is required")
	}
	if err := s.sup.EndSession(c.Request().Context(), id); err != nil {
		if isInvalidSession(err) {
			return errorJSON(c, http.StatusBadRequest, "session id is required")
		}
		log.Error().Err(err).Str("session_id", id).Msg("delete session failed")
		return errorJSON(c, http.StatusInternalServerError, "could not delete session")
	}
	s.limiter.Forget(id)
	return c.NoContent(http.StatusNoContent)
}
