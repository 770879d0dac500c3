package http

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"scanmark/internal/attend"
	"scanmark/internal/auth"
	"scanmark/internal/config"
	"scanmark/internal/db"
	"scanmark/internal/sheet"
	"scanmark/internal/uploads"
)

var markOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scanmark_mark_attempts_total",
	Help: "Mark attempts by outcome code.",
}, []string{"outcome"})

type Server struct {
	cfg      config.Config
	store    *db.Store
	registry *attend.Registry
	sessions *attend.SessionManager
	roster   *attend.Roster
	ledger   *attend.Ledger
	devices  *attend.DeviceTracker
	marker   *attend.Marker
	uploads  *uploads.Store
	redis    *redis.Client
}

func NewServer(cfg config.Config, store *db.Store, uploadStore *uploads.Store, redisClient *redis.Client) *Server {
	devices := attend.NewDeviceTracker(store)
	return &Server{
		cfg:      cfg,
		store:    store,
		registry: attend.NewRegistry(store),
		sessions: attend.NewSessionManager(store),
		roster:   attend.NewRoster(store),
		ledger:   attend.NewLedger(store),
		devices:  devices,
		marker:   attend.NewMarker(store, devices),
		uploads:  uploadStore,
		redis:    redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/mark", s.handleMark)
	r.Post("/register", s.handleRegister)
	r.Get("/search", s.handleSearch)
	r.Get("/stats", s.handleStats)
	r.Get("/events", s.handleListActiveEvents)
	r.Get("/export", s.handleExport)
	r.Get("/api/events/{eventId}/live", s.handleEventLive)
	r.Get("/api/events/{eventId}/session", s.handleEventSession)

	r.Post("/admin/login", s.handleAdminLogin)
	r.Route("/admin/api", func(r chi.Router) {
		r.Use(s.adminMiddleware)
		r.Get("/events", s.handleAdminListEvents)
		r.Post("/events", s.handleAdminCreateEvent)
		r.Post("/events/{eventId}/open", s.handleAdminOpenEvent)
		r.Post("/events/{eventId}/close", s.handleAdminCloseEvent)
		r.Get("/sessions", s.handleAdminListSessions)
		r.Post("/events/{eventId}/sessions", s.handleAdminCreateSession)
		r.Post("/sessions/{sessionId}/open", s.handleAdminOpenSession)
		r.Post("/sessions/{sessionId}/close", s.handleAdminCloseSession)
		r.Post("/events/{eventId}/import", s.handleAdminImportPreview)
		r.Post("/import/{token}/confirm", s.handleAdminImportConfirm)
		r.Delete("/import/{token}", s.handleAdminImportDiscard)
		r.Get("/dashboard", s.handleAdminDashboard)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok", "database": "ok"}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Pool.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = "unreachable"
	}
	if s.redis != nil {
		body["redis"] = "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["redis"] = "unreachable"
		}
	}
	writeJSON(w, status, body)
}

// Auth

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		if claims.Role != auth.RoleAdmin {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.AdminPassword)) == 1
	if !userOK || !passOK {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AdminTokenTTL, auth.Claims{
		Username: req.Username,
		Role:     auth.RoleAdmin,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   int64(s.cfg.AdminTokenTTL.Seconds()),
	})
}

// Models

type markRequest struct {
	EventID         int64  `json:"event_id"`
	UID             string `json:"uid"`
	DeviceID        string `json:"device_id"`
	DeviceTimestamp string `json:"device_timestamp"`
}

type registerRequest struct {
	markRequest
	Name   string `json:"name"`
	Branch string `json:"branch"`
	Year   string `json:"year"`
}

type studentPayload struct {
	UID             string `json:"uid"`
	Name            string `json:"name"`
	Branch          string `json:"branch,omitempty"`
	Year            string `json:"year,omitempty"`
	Status          string `json:"status"`
	MarkedAt        string `json:"marked_at,omitempty"`
	Source          string `json:"source,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	DeviceTimestamp string `json:"device_timestamp,omitempty"`
}

type eventPayload struct {
	EventID   int64  `json:"event_id"`
	EventName string `json:"event_name"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	IsActive  bool   `json:"is_active"`
}

type sessionPayload struct {
	SessionID   int64  `json:"session_id"`
	EventID     int64  `json:"event_id"`
	SessionName string `json:"session_name"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
}

type feedItem struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	MarkedAt string `json:"marked_at"`
	Source   string `json:"source"`
	DeviceID string `json:"device_id,omitempty"`
}

func entryPayload(entry db.RosterEntry) studentPayload {
	p := studentPayload{
		UID:             entry.UID,
		Name:            entry.Name,
		Branch:          entry.Branch,
		Year:            entry.Year,
		Status:          string(entry.Status),
		Source:          string(entry.Source),
		DeviceID:        entry.DeviceID,
		DeviceTimestamp: entry.DeviceTimestamp,
	}
	if entry.MarkedAt.Valid {
		p.MarkedAt = entry.MarkedAt.Time.UTC().Format(time.RFC3339)
	}
	return p
}

func mapEvent(evt db.Event) eventPayload {
	p := eventPayload{EventID: evt.ID, EventName: evt.Name, IsActive: evt.IsActive}
	if evt.StartTime.Valid {
		p.StartTime = evt.StartTime.Time.UTC().Format(time.RFC3339)
	}
	if evt.EndTime.Valid {
		p.EndTime = evt.EndTime.Time.UTC().Format(time.RFC3339)
	}
	return p
}

func mapSession(ses db.Session) sessionPayload {
	return sessionPayload{
		SessionID:   ses.ID,
		EventID:     ses.EventID,
		SessionName: ses.Name,
		IsActive:    ses.IsActive,
		CreatedAt:   ses.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Marking

func (s *Server) handleMark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	result, err := s.marker.Mark(r.Context(), attend.MarkRequest{
		EventID:         req.EventID,
		UID:             req.UID,
		DeviceID:        req.DeviceID,
		DeviceTimestamp: req.DeviceTimestamp,
		Origin:          clientIP(r),
	})
	s.finishMark(w, r, result, err)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	result, err := s.marker.Register(r.Context(), attend.RegisterRequest{
		MarkRequest: attend.MarkRequest{
			EventID:         req.EventID,
			UID:             req.UID,
			DeviceID:        req.DeviceID,
			DeviceTimestamp: req.DeviceTimestamp,
			Origin:          clientIP(r),
		},
		Name:   req.Name,
		Branch: req.Branch,
		Year:   req.Year,
	})
	s.finishMark(w, r, result, err)
}

func (s *Server) finishMark(w http.ResponseWriter, r *http.Request, result attend.MarkResult, err error) {
	if err != nil {
		markOutcomes.WithLabelValues(attend.CodeOf(err)).Inc()
		s.writeMarkError(w, err)
		return
	}
	markOutcomes.WithLabelValues("ok").Inc()
	s.pushRecent(r.Context(), result.Record.EventID, result.SessionID, feedItem{
		UID:      result.Entry.UID,
		Name:     result.Entry.Name,
		MarkedAt: result.Record.MarkedAt.UTC().Format(time.RFC3339),
		Source:   string(result.Record.Source),
		DeviceID: result.Record.DeviceID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"session_id": result.SessionID,
		"marked_at":  result.Record.MarkedAt.UTC().Format(time.RFC3339),
		"student":    entryPayload(result.Entry),
	})
}

// writeMarkError is writeAttendError plus the already-marked payload: the
// conflict response carries the existing record so a scanner can show who
// and when without a second round trip.
func (s *Server) writeMarkError(w http.ResponseWriter, err error) {
	e, ok := attend.AsError(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if e.Code == attend.CodeAlreadyMarked && e.Entry != nil {
		body := map[string]any{
			"error":   e.Code,
			"student": entryPayload(*e.Entry),
		}
		if e.Record != nil {
			body["marked_at"] = e.Record.MarkedAt.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusConflict, body)
		return
	}
	writeAttendError(w, err)
}

// Public reads

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	eventID, err := queryID(r, "event_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}
	entries, err := s.roster.Search(r.Context(), eventID, r.URL.Query().Get("q"))
	if err != nil {
		writeAttendError(w, err)
		return
	}
	resp := make([]studentPayload, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, entryPayload(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": resp})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	eventID, err := queryID(r, "event_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}

	// A stats poll doubles as the device heartbeat.
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		if err := s.devices.Touch(r.Context(), deviceID, clientIP(r), &eventID); err != nil {
			writeAttendError(w, err)
			return
		}
	}

	if _, err := s.registry.Get(r.Context(), eventID); err != nil {
		writeAttendError(w, err)
		return
	}

	var sessionID int64
	ses, open, err := s.sessions.Active(r.Context(), eventID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	if open {
		sessionID = ses.ID
	}

	summary, err := s.ledger.Summary(r.Context(), eventID, sessionID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	stats, err := s.devices.Liveness(r.Context(), eventID, sessionID, s.cfg.DeviceOnline)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	resp := map[string]any{
		"summary": summary,
		"devices": stats,
	}
	if open {
		resp["session"] = mapSession(ses)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListActiveEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.registry.List(r.Context(), true)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	resp := make([]eventPayload, 0, len(events))
	for _, evt := range events {
		resp = append(resp, mapEvent(evt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": resp})
}

func (s *Server) handleEventLive(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}
	if _, err := s.registry.Get(r.Context(), eventID); err != nil {
		writeAttendError(w, err)
		return
	}
	var sessionID int64
	ses, open, err := s.sessions.Active(r.Context(), eventID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	if open {
		sessionID = ses.ID
	}
	summary, err := s.ledger.Summary(r.Context(), eventID, sessionID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	recent, err := s.loadRecent(r.Context(), eventID, sessionID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"recent":  recent,
	})
}

func (s *Server) handleEventSession(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}
	evt, err := s.registry.Get(r.Context(), eventID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	// The read path resolves a session too, so clients never observe a
	// sessionless event.
	ses, err := s.sessions.EnsureDefault(r.Context(), eventID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event":   mapEvent(evt),
		"session": mapSession(ses),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	eventID, err := queryID(r, "event_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}
	var sessionID int64
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		sessionID, err = parseID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_id")
			return
		}
	}
	if _, err := s.registry.Get(r.Context(), eventID); err != nil {
		writeAttendError(w, err)
		return
	}
	if sessionID == 0 {
		ses, open, aerr := s.sessions.Active(r.Context(), eventID)
		if aerr != nil {
			writeAttendError(w, aerr)
			return
		}
		if !open {
			writeError(w, http.StatusNotFound, "no_open_session")
			return
		}
		sessionID = ses.ID
	}

	presentOnly := r.URL.Query().Get("present_only") == "1"
	var rows []db.RosterStatusRow
	if presentOnly {
		rows, err = s.ledger.PresentOnly(r.Context(), eventID, sessionID)
	} else {
		rows, err = s.ledger.RosterStatus(r.Context(), eventID, sessionID)
	}
	if err != nil {
		writeAttendError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := sheet.WriteAttendance(&buf, rows); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	scope := "full"
	if presentOnly {
		scope = "present"
	}
	filename := fmt.Sprintf("attendance_event_%d_session_%d_%s.xlsx", eventID, sessionID, scope)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Admin: events and sessions

type createEventRequest struct {
	EventName string `json:"event_name"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsActive  *bool  `json:"is_active"`
}

func (s *Server) handleAdminCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	start, err := parseOptionalTime(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time")
		return
	}
	end, err := parseOptionalTime(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end_time")
		return
	}
	open := true
	if req.IsActive != nil {
		open = *req.IsActive
	}
	evt, err := s.registry.Create(r.Context(), req.EventName, start, end, open)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapEvent(evt))
}

func (s *Server) handleAdminListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.registry.List(r.Context(), false)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	resp := make([]eventPayload, 0, len(events))
	for _, evt := range events {
		resp = append(resp, mapEvent(evt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": resp})
}

func (s *Server) handleAdminOpenEvent(w http.ResponseWriter, r *http.Request) {
	s.setEventOpen(w, r, true)
}

func (s *Server) handleAdminCloseEvent(w http.ResponseWriter, r *http.Request) {
	s.setEventOpen(w, r, false)
}

func (s *Server) setEventOpen(w http.ResponseWriter, r *http.Request, open bool) {
	eventID, err := pathID(r, "eventId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}
	if err := s.registry.SetOpen(r.Context(), eventID, open); err != nil {
		writeAttendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_id": eventID, "is_active": open})
}

func (s *Server) handleAdminListSessions(w http.ResponseWriter, r *http.Request) {
	eventID, err := queryID(r, "event_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}
	sessions, err := s.sessions.List(r.Context(), eventID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	resp := make([]sessionPayload, 0, len(sessions))
	for _, ses := range sessions {
		resp = append(resp, mapSession(ses))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": resp})
}

type createSessionRequest struct {
	SessionName string `json:"session_name"`
}

func (s *Server) handleAdminCreateSession(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	ses, err := s.sessions.Create(r.Context(), eventID, req.SessionName)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapSession(ses))
}

func (s *Server) handleAdminOpenSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "sessionId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id")
		return
	}
	ses, err := s.sessions.Open(r.Context(), sessionID)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSession(ses))
}

func (s *Server) handleAdminCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "sessionId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id")
		return
	}
	if err := s.sessions.Close(r.Context(), sessionID); err != nil {
		writeAttendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "is_active": false})
}

// Admin: roster import

const maxImportBytes = 10 << 20

func (s *Server) handleAdminImportPreview(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}
	if _, err := s.registry.Get(r.Context(), eventID); err != nil {
		writeAttendError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()
	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		writeError(w, http.StatusBadRequest, "invalid_file_type")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	rows, err := sheet.ParseRoster(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_file")
		return
	}

	token, err := s.uploads.Save(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	preview := make([]map[string]string, 0, 5)
	for _, row := range rows {
		if len(preview) == 5 {
			break
		}
		if strings.TrimSpace(row.UID) == "" {
			continue
		}
		preview = append(preview, map[string]string{
			"uid":    row.UID,
			"name":   row.Name,
			"branch": row.Branch,
			"year":   row.Year,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"event_id": eventID,
		"rows":     len(rows),
		"preview":  preview,
	})
}

type confirmImportRequest struct {
	EventID int64 `json:"event_id"`
}

func (s *Server) handleAdminImportConfirm(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var req confirmImportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.EventID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_event_id")
		return
	}

	file, err := s.uploads.Open(token)
	if err != nil {
		writeError(w, http.StatusNotFound, "upload_not_found")
		return
	}
	rows, err := sheet.ParseRoster(file)
	file.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_file")
		return
	}

	imported, err := s.roster.Import(r.Context(), req.EventID, rows)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	_ = s.uploads.Remove(token)
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": req.EventID,
		"imported": imported,
		"skipped":  len(rows) - imported,
	})
}

func (s *Server) handleAdminImportDiscard(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := s.uploads.Remove(token); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload_token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Admin: dashboard

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	events, err := s.registry.List(r.Context(), false)
	if err != nil {
		writeAttendError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(events))
	for _, evt := range events {
		item := map[string]any{"event": mapEvent(evt)}
		ses, open, err := s.sessions.Active(r.Context(), evt.ID)
		if err != nil {
			writeAttendError(w, err)
			return
		}
		var sessionID int64
		if open {
			item["session"] = mapSession(ses)
			sessionID = ses.ID
		}
		summary, err := s.ledger.Summary(r.Context(), evt.ID, sessionID)
		if err != nil {
			writeAttendError(w, err)
			return
		}
		item["summary"] = summary
		stats, err := s.devices.Liveness(r.Context(), evt.ID, sessionID, s.cfg.DeviceOnline)
		if err != nil {
			writeAttendError(w, err)
			return
		}
		item["devices"] = stats
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": resp})
}

// Recent feed cache

// recentFeedKey scopes the cached feed to one session, so a new round never
// serves the previous round's scans.
func recentFeedKey(eventID, sessionID int64) string {
	return fmt.Sprintf("scanmark:recent:%d:%d", eventID, sessionID)
}

// pushRecent mirrors a successful mark into the redis feed. The cache is an
// accelerator for the live view; failures only cost a fallback to Postgres.
func (s *Server) pushRecent(ctx context.Context, eventID, sessionID int64, item feedItem) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return
	}
	key := recentFeedKey(eventID, sessionID)
	pipe := s.redis.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(s.cfg.RecentFeedLimit)-1)
	_, _ = pipe.Exec(ctx)
}

func (s *Server) loadRecent(ctx context.Context, eventID, sessionID int64) ([]feedItem, error) {
	if s.redis != nil {
		values, err := s.redis.LRange(ctx, recentFeedKey(eventID, sessionID), 0, int64(s.cfg.RecentFeedLimit)-1).Result()
		if err == nil && len(values) > 0 {
			items := make([]feedItem, 0, len(values))
			for _, value := range values {
				var item feedItem
				if err := json.Unmarshal([]byte(value), &item); err == nil {
					items = append(items, item)
				}
			}
			return items, nil
		}
	}
	rows, err := s.ledger.Recent(ctx, eventID, sessionID, int32(s.cfg.RecentFeedLimit))
	if err != nil {
		return nil, err
	}
	items := make([]feedItem, 0, len(rows))
	for _, row := range rows {
		item := feedItem{
			UID:      row.UID,
			Name:     row.Name,
			Source:   row.Source,
			DeviceID: row.DeviceID,
		}
		if row.MarkedAt.Valid {
			item.MarkedAt = row.MarkedAt.Time.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return items, nil
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeAttendError(w http.ResponseWriter, err error) {
	writeError(w, statusForKind(attend.KindOf(err)), attend.CodeOf(err))
}

func statusForKind(kind attend.Kind) int {
	switch kind {
	case attend.KindNotFound:
		return http.StatusNotFound
	case attend.KindConflict:
		return http.StatusConflict
	case attend.KindInvalid:
		return http.StatusBadRequest
	case attend.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return parseID(chi.URLParam(r, name))
}

func queryID(r *http.Request, name string) (int64, error) {
	return parseID(r.URL.Query().Get(name))
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time %q", raw)
}

// clientIP prefers the first X-Forwarded-For hop so heartbeats survive a
// reverse proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
