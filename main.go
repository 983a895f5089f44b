package main

import (
	"compress/gzip"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var db *sqlx.DB
var devMode bool

var session *Session
var tunnel *TunnelManager

// logError logs an error with context and dumps the event journal in dev mode
func logError(context string, err error) {
	log.Printf("ERROR [%s]: %v", context, err)
	if devMode {
		LogDBState(context)
	}
}

// ============================================================================
// JSON helpers
// ============================================================================

type stateResponse struct {
	State any `json:"state"`
}

type eventsResponse struct {
	Events []GameEvent `json:"events"`
}

type tunnelResponse struct {
	Tunnel TunnelStatus `json:"tunnel"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError("writeJSON", err)
	}
}

// writeError maps rule violations to 400 and everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	if isValidationError(err) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	logError("writeError", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// ============================================================================
// Request shapes
// ============================================================================

type actionRequest struct {
	PlayerID string        `json:"player_id"`
	Action   string        `json:"action"`
	Payload  ActionPayload `json:"payload"`
}

type playerAddRequest struct {
	Name  string `json:"name"`
	IsBot bool   `json:"is_bot"`
}

type playerUpdateRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name,omitempty"`
	Ready    *bool  `json:"ready,omitempty"`
}

// ============================================================================
// Handlers
// ============================================================================

func handleGameNew(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := session.NewGame(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

func handleGameStart(w http.ResponseWriter, r *http.Request) {
	state, err := session.Start()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

func handleGameAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := session.SubmitAction(req.PlayerID, req.Action, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

// handleGameState returns the caller's view: private when player_id names
// a seated player, public otherwise, null when no game exists.
func handleGameState(w http.ResponseWriter, r *http.Request) {
	view, err := session.StateFor(r.URL.Query().Get("player_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: view})
}

func handleGameEvents(w http.ResponseWriter, r *http.Request) {
	events, err := session.Events(r.URL.Query().Get("player_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

func handleGameReset(w http.ResponseWriter, r *http.Request) {
	session.Reset()
	writeJSON(w, http.StatusOK, stateResponse{State: nil})
}

func handlePlayerAdd(w http.ResponseWriter, r *http.Request) {
	var req playerAddRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := session.AddPlayer(req.Name, req.IsBot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

func handlePlayerRemove(w http.ResponseWriter, r *http.Request) {
	var req playerUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := session.RemovePlayer(req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

func handlePlayerRename(w http.ResponseWriter, r *http.Request) {
	var req playerUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Name required"})
		return
	}
	state, err := session.RenamePlayer(req.PlayerID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

func handlePlayerClaim(w http.ResponseWriter, r *http.Request) {
	var req playerUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Name required"})
		return
	}
	state, err := session.ClaimSeat(req.PlayerID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

func handlePlayerReady(w http.ResponseWriter, r *http.Request) {
	var req playerUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ready := req.Ready == nil || *req.Ready
	state, err := session.SetReady(req.PlayerID, ready)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

func handlePlayerReset(w http.ResponseWriter, r *http.Request) {
	var req playerUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := session.ResetSeat(req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

func handleTunnelStart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tunnelResponse{Tunnel: tunnel.Start()})
}

func handleTunnelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tunnelResponse{Tunnel: tunnel.Status()})
}

func handleTunnelStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tunnelResponse{Tunnel: tunnel.Stop()})
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// Middleware
// ============================================================================

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// shouldCompress determines if a content type should be gzip compressed
func shouldCompress(contentType string) bool {
	compressiblePrefixes := []string{
		"text/",
		"application/json",
		"application/javascript",
		"image/svg",
	}
	for _, prefix := range compressiblePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// responseWriter wraps http.ResponseWriter to handle conditional gzip compression
type responseWriter struct {
	http.ResponseWriter
	gz            *gzip.Writer
	wrappedWriter http.ResponseWriter
	acceptGzip    bool
	headerSent    bool
}

// WriteHeader checks content type and sets up compression if appropriate
func (w *responseWriter) WriteHeader(statusCode int) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	contentType := w.Header().Get("Content-Type")

	// Only compress if content type is compressible and client supports gzip
	if contentType != "" && shouldCompress(contentType) && w.acceptGzip {
		w.gz = gzip.NewWriter(w.wrappedWriter)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

// Write writes to gzip writer if it exists, otherwise to original writer
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.headerSent {
		w.WriteHeader(http.StatusOK)
	}

	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Flush flushes both gzip and response writer
func (w *responseWriter) Flush() {
	if w.gz != nil {
		w.gz.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Close closes the gzip writer if it exists
func (w *responseWriter) Close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

// compress adds gzip compression to compressible responses
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			wrappedWriter:  w,
			acceptGzip:     strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer wrapped.Close()

		next.ServeHTTP(wrapped, r)
	})
}

// tunnelTarget converts a listen address into the local URL cloudflared
// should forward to.
func tunnelTarget(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func main() {
	fv := registerFlags()
	flag.Parse()

	appConfig := loadConfig(*fv.configPath)
	fv.applyTo(&appConfig)
	devMode = appConfig.Dev

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("avalon.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	printConfig(appConfig)

	if err := InitAppLogger(appConfig.toLogConfig()); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()

	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	store, err := openEventStore(appConfig.DB)
	if err != nil {
		log.Fatal("Failed to open event store:", err)
	}
	defer store.Close()

	LogDBState("after openEventStore")

	var policy BotPolicy
	if appConfig.BotMode == "llm" {
		policy = initBotPolicy(appConfig)
	} else {
		log.Printf("Bot policy: heuristic")
	}

	session = newSession(store, hub, policy, createLocalRandGenerator(),
		appConfig.MaxRecentChat, time.Duration(appConfig.BotTimeoutSeconds)*time.Second)
	tunnel = newTunnelManager(tunnelTarget(appConfig.Addr))

	// Start WebSocket hub
	go hub.run()

	// Wrap handlers with compression, caching control, and optional logging
	wrapHandler := func(pattern string, handler http.HandlerFunc) {
		var h http.Handler = handler
		h = compress(h)
		h = disableCaching(h)
		if appLogger != nil && appLogger.logRequests {
			http.Handle(pattern, &LoggingHandler{Handler: h, Logger: appLogger})
		} else {
			http.Handle(pattern, h)
		}
	}

	wrapHandler("POST /game/new", handleGameNew)
	wrapHandler("POST /game/start", handleGameStart)
	wrapHandler("POST /game/action", handleGameAction)
	wrapHandler("GET /game/state", handleGameState)
	wrapHandler("GET /game/events", handleGameEvents)
	wrapHandler("POST /game/reset", handleGameReset)
	wrapHandler("POST /game/players/add", handlePlayerAdd)
	wrapHandler("POST /game/players/remove", handlePlayerRemove)
	wrapHandler("POST /game/players/rename", handlePlayerRename)
	wrapHandler("POST /game/players/claim", handlePlayerClaim)
	wrapHandler("POST /game/players/ready", handlePlayerReady)
	wrapHandler("POST /game/players/reset", handlePlayerReset)
	wrapHandler("POST /tunnel/start", handleTunnelStart)
	wrapHandler("GET /tunnel/status", handleTunnelStatus)
	wrapHandler("POST /tunnel/stop", handleTunnelStop)
	wrapHandler("GET /healthz", handleHealthz)

	// The websocket upgrade needs the raw ResponseWriter (http.Hijacker),
	// so the stream route skips the middleware chain.
	http.HandleFunc("GET /game/stream", handleGameStream)

	log.Printf("Server starting on %s", appConfig.Addr)
	log.Fatal(http.ListenAndServe(appConfig.Addr, nil))
}
