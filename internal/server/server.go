package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/audiosession/internal/audio"
	"github.com/audiolibrelab/audiosession/internal/config"
	"github.com/audiolibrelab/audiosession/internal/service"
	"github.com/audiolibrelab/audiosession/internal/session"
)

// Server exposes the audio session over HTTP
type Server struct {
	service    service.Service
	configFile string
	port       string

	// listPorts enumerates capture sources; replaced in tests
	listPorts func() ([]string, error)

	upgrader websocket.Upgrader
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string             `json:"status"`
	Snapshot  session.Snapshot   `json:"snapshot"`
	LastError string             `json:"last_error,omitempty"`
	Config    ResolvedConfigInfo `json:"resolved_config"`
}

// ResolvedConfigInfo contains the parts of the configuration clients display
type ResolvedConfigInfo struct {
	Profile    string `json:"profile"`
	Backend    string `json:"backend"`
	OutputDir  string `json:"output_dir"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
	Source     string `json:"source"`
}

// RecordingsResponse represents the JSON response for the recordings endpoint
type RecordingsResponse struct {
	Recordings []service.RecordingInfo `json:"recordings"`
	Directory  string                  `json:"directory"`
}

// SourcesResponse lists the capture ports known to PipeWire
type SourcesResponse struct {
	Sources []string `json:"sources"`
}

// RecordStartRequest names the recording; an empty name is generated
type RecordStartRequest struct {
	Name string `json:"name"`
}

// PlayStartRequest selects a file by uri or by recording name
type PlayStartRequest struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
	Loop bool   `json:"loop"`
}

// SeekRequest carries the target position
type SeekRequest struct {
	Ms uint64 `json:"ms"`
}

// ValueRequest carries a volume or speed value
type ValueRequest struct {
	Value *float64 `json:"value"`
}

// New loads the configuration and creates a server over a new service
func New(configFile, profile, port string) (*Server, error) {
	cfg, err := config.LoadWithProfile(configFile, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if port == "" {
		port = cfg.Server.Port
	}

	return NewWithService(service.New(cfg, configFile), configFile, port), nil
}

// NewWithService creates a server over an existing service
func NewWithService(svc service.Service, configFile, port string) *Server {
	pw := audio.NewPipeWire()
	return &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
		listPorts:  pw.ListPorts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control surface is meant for the local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routing table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sources", s.handleSources)

	mux.HandleFunc("/record/start", s.handleRecordStart)
	mux.HandleFunc("/record/stop", s.handleRecordStop)
	mux.HandleFunc("/record/pause", s.command("pause_recording", s.service.PauseRecording))
	mux.HandleFunc("/record/resume", s.command("resume_recording", s.service.ResumeRecording))
	mux.HandleFunc("/record/reset", s.command("reset_recording", s.service.ResetRecording))

	mux.HandleFunc("/play/start", s.handlePlayStart)
	mux.HandleFunc("/play/pause", s.command("pause_playback", s.service.PausePlayback))
	mux.HandleFunc("/play/resume", s.command("resume_playback", s.service.ResumePlayback))
	mux.HandleFunc("/play/stop", s.command("stop_playback", s.service.StopPlayback))
	mux.HandleFunc("/play/seek", s.handleSeek)
	mux.HandleFunc("/play/volume", s.handleValue("set_volume", s.service.SetVolume))
	mux.HandleFunc("/play/speed", s.handleValue("set_speed", s.service.SetSpeed))

	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/stream/", s.handleRecordingStream)
	mux.HandleFunc("/api/events", s.handleEvents)

	return mux
}

// Start serves until ctx is done, then shuts the server and the audio session down
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	localIP := getLocalIP()
	slog.Info("Starting audio session server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.closeService()
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down audio session server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	s.closeService()
	return nil
}

func (s *Server) closeService() {
	if err := s.service.Close(context.Background()); err != nil {
		slog.Warn("Audio session teardown incomplete", "error", err)
	}
}

// handleStatus returns the current snapshot and resolved config
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	snap := s.service.Snapshot()
	cfg := s.service.GetConfig()

	response := StatusResponse{
		Status:    statusLabel(snap),
		Snapshot:  snap,
		LastError: s.service.GetLastError(),
		Config: ResolvedConfigInfo{
			Profile:    cfg.Profile,
			Backend:    cfg.Audio.Backend,
			OutputDir:  cfg.Recording.Directory,
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			Format:     cfg.Audio.Format,
			Source:     cfg.Audio.Source,
		},
	}

	sendJSON(w, http.StatusOK, response)
}

func statusLabel(snap session.Snapshot) string {
	switch {
	case snap.IsRecording && snap.IsPlaying:
		return "RECORDING_AND_PLAYING"
	case snap.IsRecording:
		return "RECORDING"
	case snap.IsPlaying:
		return "PLAYING"
	default:
		return "IDLE"
	}
}

// handleSources lists PipeWire ports usable as audio.source
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	ports, err := s.listPorts()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to list sources: %v", err), "operation", "list_sources")
		return
	}

	sendJSON(w, http.StatusOK, SourcesResponse{Sources: ports})
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req RecordStartRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	target, err := s.service.StartRecording(commandContext(r), req.Name)
	if err != nil {
		s.sendServiceError(w, err, "operation", "start_recording", "name", req.Name)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Recording started",
		"target":   target,
		"snapshot": s.service.Snapshot(),
	})
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	uri, err := s.service.StopRecording(commandContext(r))
	if err != nil {
		s.sendServiceError(w, err, "operation", "stop_recording")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Recording stopped",
		"uri":      uri,
		"snapshot": s.service.Snapshot(),
	})
}

func (s *Server) handlePlayStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req PlayStartRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	uri := req.URI
	if uri == "" && req.Name != "" {
		path, err := s.service.ResolveRecording(req.Name)
		if err != nil {
			s.sendServiceError(w, err, "operation", "resolve_recording", "name", req.Name)
			return
		}
		uri = path
	}

	if err := s.service.Play(commandContext(r), uri, req.Loop); err != nil {
		s.sendServiceError(w, err, "operation", "start_playback", "uri", uri)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Playback started",
		"uri":      uri,
		"snapshot": s.service.Snapshot(),
	})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req SeekRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.service.Seek(commandContext(r), req.Ms); err != nil {
		s.sendServiceError(w, err, "operation", "seek", "ms", req.Ms)
		return
	}
	s.sendSuccess(w, "Seek applied")
}

func (s *Server) handleValue(operation string, apply func(context.Context, float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		var req ValueRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		if req.Value == nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Value is required", "operation", operation)
			return
		}

		if err := apply(commandContext(r), *req.Value); err != nil {
			s.sendServiceError(w, err, "operation", operation, "value", *req.Value)
			return
		}
		s.sendSuccess(w, "Value applied")
	}
}

// commandContext keeps request values but not cancellation, so a client
// that disconnects cannot abandon an engine command halfway
func commandContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// command wraps a body-less POST command
func (s *Server) command(operation string, run func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		if err := run(commandContext(r)); err != nil {
			s.sendServiceError(w, err, "operation", operation)
			return
		}
		s.sendSuccess(w, "OK")
	}
}

// handleRecordings lists recordings, newest first
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err), "operation", "list_recordings")
		return
	}
	if recordings == nil {
		recordings = []service.RecordingInfo{}
	}

	sendJSON(w, http.StatusOK, RecordingsResponse{
		Recordings: recordings,
		Directory:  s.service.GetConfig().Recording.Directory,
	})
}

// handleRecordingStream serves a recording file for browser playback
func (s *Server) handleRecordingStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/recordings/stream/")
	filePath, err := s.service.ResolveRecording(filename)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, "File not found", http.StatusNotFound)
		case errors.Is(err, session.ErrInvalidArgument):
			http.Error(w, "Invalid filename", http.StatusBadRequest)
		default:
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}

	file, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "audio/mpeg" // Default fallback
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// handleEvents streams a snapshot over a websocket after every change
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.service.Subscribe()
	defer cancel()

	// The client never sends; reading detects disconnects
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Debug("Event stream client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-gone:
			slog.Debug("Event stream client disconnected", "remote", r.RemoteAddr)
			return
		case snap, ok := <-updates:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				slog.Debug("Event stream write failed", "error", err)
				return
			}
		}
	}
}

// statusFor maps the session error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, session.ErrEngineTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrEngineFailure):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendServiceError(w http.ResponseWriter, err error, logContext ...interface{}) {
	s.sendErrorResponse(w, statusFor(err), err.Error(), logContext...)
}

// decodeBody parses an optional JSON body into v
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "error", err)
		return false
	}
	return true
}

func (s *Server) sendSuccess(w http.ResponseWriter, message string) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  message,
		"snapshot": s.service.Snapshot(),
	})
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	sendJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
