package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"chatline/internal/hub"
	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

const historyLimit = 200

// Server exposes the HTTP collaborator endpoints: message history CRUD plus
// health. No real-time state lives here; the hub is only asked for live
// delivery and stats. The requester's identity arrives in the X-User-ID
// header, established by the upstream auth layer and trusted as given.
type Server struct {
	store  interfaces.MessageStore
	hub    *hub.Hub
	router *http.ServeMux
}

// NewServer wires routes over the store and hub.
func NewServer(store interfaces.MessageStore, h *hub.Hub) *Server {
	s := &Server{
		store:  store,
		hub:    h,
		router: http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/messages/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleMessages))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleMessages dispatches the /api/messages subtree:
//
//	GET  /api/messages/users         known users except the requester
//	GET  /api/messages/room/{roomId} room history
//	GET  /api/messages/{userId}      conversation with userId
//	POST /api/messages/send/{userId} send a direct message to userId
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.sendError(w, "missing resource path", http.StatusBadRequest)
		return
	}

	switch {
	case parts[0] == "users" && len(parts) == 1:
		if r.Method != http.MethodGet {
			s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.listUsers(w, r)

	case parts[0] == "room" && len(parts) == 2:
		if r.Method != http.MethodGet {
			s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getRoomHistory(w, r, parts[1])

	case parts[0] == "send" && len(parts) == 2:
		if r.Method != http.MethodPost {
			s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.sendDirectMessage(w, r, parts[1])

	case len(parts) == 1:
		if r.Method != http.MethodGet {
			s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getConversation(w, r, parts[0])

	default:
		s.sendError(w, "not found", http.StatusNotFound)
	}
}

// SendMessageRequest is the body of POST /api/messages/send/{userId}.
type SendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
	Video string `json:"video,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HealthResponse reports component status and live connection counts.
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Presence  map[string]int `json:"presence"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.requester(w, r)
	if !ok {
		return
	}

	users, err := s.store.ListUsers(r.Context(), requester)
	if err != nil {
		log.Printf("list users failed: %v", err)
		s.sendError(w, "failed to list users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []*types.User{}
	}
	_ = json.NewEncoder(w).Encode(users)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request, otherID string) {
	requester, ok := s.requester(w, r)
	if !ok {
		return
	}
	if !types.IsValidUserID(otherID) {
		s.sendError(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	messages, err := s.store.GetConversation(r.Context(), requester, otherID, historyLimit)
	if err != nil {
		log.Printf("get conversation failed: %v", err)
		s.sendError(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.DirectMessage{}
	}
	_ = json.NewEncoder(w).Encode(messages)
}

func (s *Server) getRoomHistory(w http.ResponseWriter, r *http.Request, roomID string) {
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "invalid room ID", http.StatusBadRequest)
		return
	}

	messages, err := s.store.GetRoomHistory(r.Context(), roomID, historyLimit)
	if err != nil {
		log.Printf("get room history failed: %v", err)
		s.sendError(w, "failed to load room messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.RoomMessage{}
	}
	_ = json.NewEncoder(w).Encode(messages)
}

// sendDirectMessage persists the message, then attempts live delivery. An
// offline receiver still gets 201: the message is waiting in history.
func (s *Server) sendDirectMessage(w http.ResponseWriter, r *http.Request, receiverID string) {
	requester, ok := s.requester(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	msg := &types.DirectMessage{
		SenderID:   requester,
		ReceiverID: receiverID,
		Text:       req.Text,
		Image:      req.Image,
		Video:      req.Video,
	}
	if err := msg.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.SaveDirectMessage(r.Context(), msg); err != nil {
		log.Printf("save direct message failed: %v", err)
		s.sendError(w, "failed to save message", http.StatusInternalServerError)
		return
	}

	if s.hub != nil {
		if err := s.hub.DeliverDirect(msg); err != nil {
			// Live delivery is best effort; history already has the message.
			log.Printf("live delivery skipped: receiver=%s err=%v", receiverID, err)
		}
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(msg)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	presence := map[string]int{}
	if s.hub != nil {
		presence = s.hub.Stats()
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
		Presence:  presence,
	})
}

// requester extracts and validates the caller identity header.
func (s *Server) requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if !types.IsValidUserID(userID) {
		s.sendError(w, "missing or invalid X-User-ID header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
