// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ttbt-io/lineup/backend/lineup"
	"github.com/ttbt-io/lineup/backend/search"
)

const maxBodySize = 1 << 20

const (
	retryAfterLoad   = "2"
	retryAfterAction = "5"
)

func generateETag(data []byte) string {
	return fmt.Sprintf("\"%x\"", sha256.Sum256(data))
}

func hubBusyResponse(w http.ResponseWriter, retryAfter string) {
	w.Header().Set("Retry-After", retryAfter)
	http.Error(w, "Too Many Requests: Server is busy", http.StatusTooManyRequests)
}

// Options represent server options.
type Options struct {
	Addr      string
	DataDir   string
	TeamName  string
	Debug     bool
	Storage   *storage.Storage
	MasterKey crypto.MasterKey
	Listener  net.Listener

	// Auth Options
	AuthMode         string
	AuthCookieName   string
	AuthJWKSURL      string
	EditPasswordHash string
	TokenSecret      []byte
	Editors          []string

	// Raft Options
	RaftEnabled           bool
	RaftNodeID            string
	RaftBind              string
	RaftAdvertise         string
	RaftSecret            string
	RaftJoin              string // URL of a cluster member to join
	RaftBootstrap         bool
	UseProductionTimeouts bool
}

func (o Options) cookieName() string {
	if o.AuthCookieName != "" {
		return o.AuthCookieName
	}
	return defaultAuthCookieName
}

// httpAdvertise is the address followers report for this node when it leads.
func (o Options) httpAdvertise() string {
	if o.Listener != nil {
		return o.Listener.Addr().String()
	}
	return o.Addr
}

// Server represents the running server instance.
type Server struct {
	opts       Options
	httpServer *http.Server
	raftMgr    *RaftManager
	hub        *Hub
	store      *Store
	persist    Persister
	monitor    *Monitor
	issuer     *tokenIssuer
	handler    http.Handler
}

// NewServer opens the store, starts Raft when enabled, and builds the HTTP
// handler. It does not listen.
func NewServer(opts Options) (*Server, error) {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.TeamName == "" {
		opts.TeamName = DefaultTeamName
	}
	if opts.AuthMode == "" {
		opts.AuthMode = AuthModePassword
	}
	if opts.Storage == nil {
		opts.Storage = storage.New(opts.DataDir, opts.MasterKey)
	}
	issuer, err := newTokenIssuer(opts.TokenSecret)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:    opts,
		store:   NewStore(opts.Storage),
		monitor: NewMonitor(),
		issuer:  issuer,
	}

	if !opts.RaftEnabled {
		s.persist = s.store
		s.hub = NewHub(s.store, s.store, false)
	} else {
		fsm := NewFSM(s.store)
		raftDataDir := filepath.Join(opts.DataDir, "raft")
		s.raftMgr = NewRaftManager(raftDataDir, opts.RaftBind, opts.RaftAdvertise, opts.httpAdvertise(), opts.RaftNodeID, opts.RaftSecret, fsm)
		s.raftMgr.UseProductionTimeouts = opts.UseProductionTimeouts
		s.persist = raftPersister{rm: s.raftMgr}
		s.hub = NewHub(s.store, s.persist, true)
		fsm.SetNotifier(s.hub.Reload)
		if err := s.raftMgr.Start(opts.RaftBootstrap); err != nil {
			s.hub.Close()
			return nil, fmt.Errorf("raft: %w", err)
		}
	}

	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the sync hub of the server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// RaftManager returns the Raft node, or nil when replication is off.
func (s *Server) RaftManager() *RaftManager {
	return s.raftMgr
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/roster", s.handleGetRoster)
		r.Post("/roster", s.handleSaveRoster)

		r.Get("/game", s.handleGetGame)
		r.Post("/game/command", s.handleCommand)
		r.Get("/game/eligibility", s.handleEligibility)
		r.Get("/game/validate", s.handleValidate)
		r.Get("/game/changes", s.handleChanges)

		r.Get("/games", s.handleListGames)
		r.Get("/games/{id}", s.handleGetSavedGame)
		r.Delete("/games/{id}", s.handleDeleteGame)

		r.Get("/metrics/game", s.handleGameMetrics)
		r.Get("/metrics/season", s.handleSeasonMetrics)
		r.Get("/export.csv", s.handleExport)

		r.Get("/ws", s.hub.ServeWS)

		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/me", s.handleMe)

		r.Get("/status", s.handleStatus)
		r.Post("/cluster/join", s.handleClusterJoin)
	})

	var handler http.Handler = r
	handler = authMiddleware(s.opts, s.issuer)(handler)
	handler = loggingMiddleware(s.monitor, handler)
	handler = securityMiddleware(handler)
	handler = cacheControlMiddleware(handler)
	return handler
}

// StartServer creates a server and serves it in the background.
func StartServer(opts Options) (*Server, error) {
	s, err := NewServer(opts)
	if err != nil {
		return nil, err
	}

	if s.raftMgr != nil {
		// Wait for Raft to replay log and catch up to ensure data consistency
		// before starting the public HTTP server.
		if err := s.raftMgr.WaitForSync(30 * time.Second); err != nil {
			zap.S().Warnf("Raft sync timed out: %v", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if opts.Listener != nil {
			zap.S().Infof("Starting HTTP server on provided listener %s...", opts.Listener.Addr())
			err = s.httpServer.Serve(opts.Listener)
		} else {
			zap.S().Infof("Server starting on %s...", opts.Addr)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("Server error: %v", err)
		}
	}()

	return s, nil
}

// Shutdown gracefully shuts down the server and Raft node.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []string
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("http: %v", err))
		}
	}
	s.hub.Close()
	if s.raftMgr != nil {
		if err := s.raftMgr.Shutdown(); err != nil {
			errs = append(errs, fmt.Sprintf("raft: %v", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// httpError maps err to a status code.
func (s *Server) httpError(w http.ResponseWriter, err error) {
	var inel *lineup.IneligibleSwapError
	switch {
	case errors.As(err, &inel):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "ineligible",
			"player": inel.Player,
			"slot":   inel.Slot,
			"reason": inel.Reason,
		})
	case errors.Is(err, ErrInvalidCommand),
		errors.Is(err, lineup.ErrInvalidInning),
		errors.Is(err, lineup.ErrNoSourceInning),
		errors.Is(err, lineup.ErrNotSwappable),
		errors.Is(err, lineup.ErrUnknownMode),
		errors.Is(err, lineup.ErrUnknownPosition),
		errors.Is(err, lineup.ErrUnknownPlayer):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Forbidden: "+err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNotLeader):
		if s.raftMgr != nil {
			if leader := s.raftMgr.GetLeaderHTTPAddr(); leader != "" {
				w.Header().Set("X-Raft-Leader", leader)
			}
		}
		http.Error(w, "Service Unavailable: not leader", http.StatusServiceUnavailable)
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, ErrHubBusy):
		hubBusyResponse(w, retryAfterAction)
	case errors.Is(err, ErrHubClosed):
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Request Timeout", http.StatusRequestTimeout)
	default:
		zap.S().Errorf("request failed: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Debugf("write response: %v", err)
	}
}

// writeJSONWithETag answers 304 when the client already has v.
func writeJSONWithETag(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	etag := generateETag(data)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*lineup.Game, lineup.Roster, bool) {
	g, roster, err := s.hub.Snapshot(r.Context())
	if errors.Is(err, ErrHubBusy) {
		hubBusyResponse(w, retryAfterLoad)
		return nil, roster, false
	}
	if err != nil {
		s.httpError(w, err)
		return nil, roster, false
	}
	return g, roster, true
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request, cmd Command) {
	g, roster, err := s.hub.Apply(r.Context(), cmd, capabilityFromContext(r.Context()))
	if err != nil {
		s.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": g, "roster": roster})
}

func (s *Server) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	_, roster, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSONWithETag(w, r, roster)
}

func (s *Server) handleSaveRoster(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var roster lineup.Roster
	if err := json.Unmarshal(body, &roster); err != nil {
		http.Error(w, "Bad Request: malformed roster", http.StatusBadRequest)
		return
	}
	s.apply(w, r, Command{Type: CmdSaveRoster, Roster: &roster})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, _, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSONWithETag(w, r, g)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	cmd, err := ParseCommand(body)
	if err != nil {
		s.httpError(w, err)
		return
	}
	s.apply(w, r, cmd)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidCommand, name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidCommand, name)
	}
	return n, nil
}

// inningState returns the current game's view of the inning named by the
// query, deriving it when it has not been visited yet.
func (s *Server) inningState(w http.ResponseWriter, r *http.Request) (*lineup.Game, int, *lineup.InningState, bool) {
	n, err := intParam(r, "inning")
	if err != nil {
		s.httpError(w, err)
		return nil, 0, nil, false
	}
	g, _, ok := s.snapshot(w, r)
	if !ok {
		return nil, 0, nil, false
	}
	st, err := lineup.DeriveInning(g, n)
	if err != nil {
		s.httpError(w, err)
		return nil, 0, nil, false
	}
	return g, n, st, true
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "player")
	if err != nil {
		s.httpError(w, err)
		return
	}
	_, n, st, ok := s.inningState(w, r)
	if !ok {
		return
	}
	player, found := st.Player(lineup.PlayerID(id))
	if !found {
		s.httpError(w, fmt.Errorf("player %d: %w", id, lineup.ErrUnknownPlayer))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player":  player,
		"inning":  n,
		"status":  lineup.Status(player.ID, st),
		"options": lineup.SwapOptions(player.ID, st),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	_, n, st, ok := s.inningState(w, r)
	if !ok {
		return
	}
	report := lineup.Validate(st)
	warnings := make([]string, 0)
	for _, warn := range report.Warnings() {
		warnings = append(warnings, warn.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"inning":   n,
		"ok":       report.OK(),
		"report":   report,
		"warnings": warnings,
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "inning")
	if err != nil {
		s.httpError(w, err)
		return
	}
	if n < 1 || n > lineup.Innings {
		s.httpError(w, lineup.ErrInvalidInning)
		return
	}
	g, _, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lineup.Changes(g, n))
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	q := search.Parse(r.URL.Query().Get("q"))
	games := make([]GameSummary, 0)
	for sum, err := range s.store.ListSavedGames() {
		if err != nil {
			s.httpError(w, err)
			return
		}
		if q.Match(search.Record{ID: sum.ID, Opponent: sum.Opponent, Date: sum.Date}) {
			games = append(games, sum)
		}
	}
	// Most recent first.
	slices.SortStableFunc(games, func(a, b GameSummary) int {
		if c := strings.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return strings.Compare(b.UpdatedAt, a.UpdatedAt)
	})
	writeJSONWithETag(w, r, map[string]any{"games": games})
}

func gameIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		http.Error(w, "Bad Request: invalid game id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (s *Server) handleGetSavedGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	g, err := s.store.LoadGame(id)
	if err != nil {
		s.httpError(w, err)
		return
	}
	writeJSONWithETag(w, r, g)
}

func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("purge") != "true" {
		s.apply(w, r, Command{Type: CmdDeleteGame, GameID: id})
		return
	}
	if !capabilityFromContext(r.Context()).CanEdit {
		s.httpError(w, ErrForbidden)
		return
	}
	if err := s.persist.Delete(gameKey(id)); err != nil {
		s.httpError(w, err)
		return
	}
	if s.raftMgr == nil {
		s.hub.Reload(gameKey(id))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGameMetrics(w http.ResponseWriter, r *http.Request) {
	g, roster, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": lineup.GameMetrics(g, roster)})
}

func (s *Server) handleSeasonMetrics(w http.ResponseWriter, r *http.Request) {
	_, roster, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	var games []*lineup.Game
	for g, err := range s.store.SavedGames() {
		if err != nil {
			s.httpError(w, err)
			return
		}
		games = append(games, g)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"games":   len(games),
		"players": lineup.SeasonMetrics(games, roster),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var g *lineup.Game
	if id := r.URL.Query().Get("game"); id != "" && id != "current" {
		if err := uuid.Validate(id); err != nil {
			http.Error(w, "Bad Request: invalid game id", http.StatusBadRequest)
			return
		}
		saved, err := s.store.LoadGame(id)
		if err != nil {
			s.httpError(w, err)
			return
		}
		g = saved
	} else {
		current, _, ok := s.snapshot(w, r)
		if !ok {
			return
		}
		g = current
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename(g)))
	if err := WriteCSV(w, s.opts.TeamName, g); err != nil {
		zap.S().Errorf("export: %v", err)
	}
}

func (s *Server) setAuthCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:    name,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	})
}

type loginRequest struct {
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	switch s.opts.AuthMode {
	case AuthModeMock:
		editor := normalizeEmail(req.Email)
		if editor == "" {
			editor = editTokenSubject
		}
		s.setAuthCookie(w, mockEditorCookieName, editor, time.Now().Add(editTokenTTL))
		writeJSON(w, http.StatusOK, Capability{Editor: editor, CanEdit: true})
	case AuthModePassword:
		if s.opts.EditPasswordHash == "" {
			http.Error(w, "Forbidden: editing is not enabled", http.StatusForbidden)
			return
		}
		if !checkPassword(s.opts.EditPasswordHash, req.Password) {
			zap.S().Infof("login rejected from %s", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token, exp, err := s.issuer.Issue()
		if err != nil {
			s.httpError(w, err)
			return
		}
		s.setAuthCookie(w, s.opts.cookieName(), token, exp)
		writeJSON(w, http.StatusOK, Capability{Editor: editTokenSubject, CanEdit: true})
	default:
		http.Error(w, "Not Found: login is handled by the identity provider", http.StatusNotFound)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.opts.AuthMode != AuthModeSSO {
		s.clearCookie(w, s.opts.cookieName())
	}
	s.clearCookie(w, mockEditorCookieName)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c := capabilityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"authMode": s.opts.AuthMode,
		"editor":   c.Editor,
		"canEdit":  c.CanEdit,
	})
}

type statusResponse struct {
	AppVersion      string         `json:"appVersion"`
	ProtocolVersion int            `json:"protocolVersion"`
	TeamName        string         `json:"teamName"`
	Clients         int            `json:"clients"`
	Requests        RequestMetrics `json:"requests"`
	Raft            *RaftStatus    `json:"raft,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		AppVersion:      CurrentAppVersion,
		ProtocolVersion: CurrentProtocolVersion,
		TeamName:        s.opts.TeamName,
		Clients:         s.hub.ClientCount(),
		Requests:        s.monitor.Snapshot(),
	}
	if s.raftMgr != nil {
		st := s.raftMgr.Status()
		resp.Raft = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClusterJoin(w http.ResponseWriter, r *http.Request) {
	if s.raftMgr == nil {
		http.Error(w, "Not Found: replication is disabled", http.StatusNotFound)
		return
	}
	s.raftMgr.handleJoin(w, r)
}

// cacheControlMiddleware keeps API responses out of shared caches.
func cacheControlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "private, no-cache, no-transform")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=300, proxy-revalidate, no-transform")
		}
		next.ServeHTTP(w, r)
	})
}

// securityMiddleware adds HTTP security headers to responses.
func securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: blob:")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
