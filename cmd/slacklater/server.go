package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"slacklater/internal/constants"
	"slacklater/internal/errors"
	"slacklater/internal/middleware"
	"slacklater/internal/models"
	"slacklater/internal/service"
	"slacklater/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *models.Config
	msgService service.MessageService
	server     *http.Server
}

func NewServer(cfg *models.Config, msgService service.MessageService, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		msgService: msgService,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	oauth := s.router.PathPrefix("/oauth").Subrouter()
	oauth.HandleFunc("/authorize", s.handleOAuthAuthorize()).Methods(http.MethodGet)
	oauth.HandleFunc("/callback", s.handleOAuthCallback()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/channels", s.handleListChannels()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleCreateMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.handleCancelMessage()).Methods(http.MethodDelete)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.WithError(err).Error("Failed to write health response")
		}
	}
}

func (s *Server) handleOAuthAuthorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := tracing.GenerateRequestID()
		http.Redirect(w, r, s.msgService.AuthorizeURL(state), http.StatusFound)
	}
}

func (s *Server) handleOAuthCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			s.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, fmt.Sprintf("authorization denied: %s", errParam)))
			return
		}

		cred, err := s.msgService.CompleteOAuth(r.Context(), r.URL.Query().Get("code"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{
			"tenant_id": cred.TenantID,
			"team_name": cred.TeamName,
		})
	}
}

func (s *Server) handleListChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			s.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "tenant_id query parameter is required"))
			return
		}

		channels, err := s.msgService.ListChannels(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{"channels": channels})
	}
}

type createMessageRequest struct {
	TenantID  string     `json:"tenant_id"`
	ChannelID string     `json:"channel_id"`
	Text      string     `json:"text"`
	SendAt    *time.Time `json:"send_at,omitempty"`
}

type messageResponse struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	ChannelID string     `json:"channel_id"`
	Text      string     `json:"text"`
	SendAt    time.Time  `json:"send_at"`
	Status    string     `json:"status"`
	LastError *string    `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toMessageResponse(msg *models.ScheduledMessage) messageResponse {
	return messageResponse{
		ID:        msg.ID,
		TenantID:  msg.TenantID,
		ChannelID: msg.ChannelID,
		Text:      msg.Text,
		SendAt:    msg.SendAt.UTC(),
		Status:    string(msg.Status),
		LastError: msg.LastError,
		CreatedAt: msg.CreatedAt.UTC(),
	}
}

func (s *Server) handleCreateMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "invalid request body"))
			return
		}

		// A missing or past send_at means "send now".
		sendAt := time.Now().UTC()
		if req.SendAt != nil {
			sendAt = *req.SendAt
		}

		msg, err := s.msgService.ScheduleMessage(r.Context(), req.TenantID, req.ChannelID, req.Text, sendAt)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, toMessageResponse(msg))
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			s.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "tenant_id query parameter is required"))
			return
		}

		messages, err := s.msgService.ListMessages(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		responses := make([]messageResponse, 0, len(messages))
		for i := range messages {
			responses = append(responses, toMessageResponse(&messages[i]))
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": responses})
	}
}

func (s *Server) handleCancelMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			s.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "tenant_id query parameter is required"))
			return
		}

		msg, err := s.msgService.CancelMessage(r.Context(), tenantID, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, toMessageResponse(msg))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeUnauthorized, errors.ErrCodeRefreshFailed:
		status = http.StatusUnauthorized
	case errors.ErrCodeInvalidTransition:
		status = http.StatusConflict
	case errors.ErrCodeSlackAPI, errors.ErrCodeDeliveryFailed:
		status = http.StatusBadGateway
	}

	if status >= 500 {
		s.logger.WithError(err).WithField(service.LogFieldURL, r.URL.Path).Error("Request failed")
	}

	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}
