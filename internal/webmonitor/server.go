package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/dj-oyu/ppe-monitor/internal/frame"
	"github.com/dj-oyu/ppe-monitor/internal/health"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/internal/session"
)

const uploadField = "file"

// Server serves the monitor page, the overlay stream and the control API.
type Server struct {
	cfg               Config
	session           *session.Controller
	monitor           *Monitor
	metrics           *metrics.Metrics
	broadcaster       *FrameBroadcaster
	statusBroadcaster *StatusBroadcaster

	uploadMu   sync.Mutex
	lastUpload string
}

// NewServer returns a configured monitor server and starts its broadcasters.
// hm may be nil.
func NewServer(cfg Config, sess *session.Controller, hm *health.Monitor, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New()
	}

	monitor := NewMonitor(sess, hm)
	broadcaster := NewFrameBroadcaster(sess, cfg.JPEGQuality, m)
	broadcaster.Start()

	statusBroadcaster := NewStatusBroadcaster(monitor, sess, cfg.StatusInterval, m)
	statusBroadcaster.Start()

	return &Server{
		cfg:               cfg,
		session:           sess,
		monitor:           monitor,
		metrics:           m,
		broadcaster:       broadcaster,
		statusBroadcaster: statusBroadcaster,
	}
}

// NotifyHealthChange pushes a status event to stream clients.
func (s *Server) NotifyHealthChange() {
	s.statusBroadcaster.Notify()
}

// Close stops the broadcasters and removes the last uploaded file.
func (s *Server) Close() error {
	s.broadcaster.Stop()
	s.statusBroadcaster.Stop()

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	if s.lastUpload == "" {
		return nil
	}
	err := os.Remove(s.lastUpload)
	s.lastUpload = ""
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/play", s.handleControl(s.session.Play)).Methods(http.MethodPost)
	r.HandleFunc("/api/pause", s.handleControl(s.session.Pause)).Methods(http.MethodPost)
	r.HandleFunc("/api/toggle", s.handleControl(s.session.Toggle)).Methods(http.MethodPost)

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.statusBroadcaster.Subscribe()
	defer s.statusBroadcaster.Unsubscribe(id)
	streamStatusEventsFromChannel(w, r, eventCh, wantsProtobuf(r))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Health())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fmt.Errorf("file exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, fmt.Errorf("missing %q file field: %w", uploadField, err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename)))
	}
	if frame.KindOf(mediaType) == frame.KindUnknown {
		writeError(w, fmt.Errorf("%w: %q", session.ErrUnsupportedMedia, mediaType), http.StatusUnsupportedMediaType)
		return
	}

	name := filepath.Base(header.Filename)
	path, err := s.store(file, name)
	if err != nil {
		logger.Error("Server", "Failed to store upload %s: %v", name, err)
		writeError(w, errors.New("failed to store upload"), http.StatusInternalServerError)
		return
	}

	err = s.session.SelectFile(r.Context(), session.File{Name: name, MediaType: mediaType, Path: path})
	if err != nil {
		_ = os.Remove(path)
		writeError(w, err, http.StatusUnprocessableEntity)
		return
	}
	s.replaceUpload(path)

	logger.Info("Server", "Loaded upload %s (%s, %d bytes)", name, mediaType, header.Size)
	writeJSON(w, s.monitor.Status())
}

// store copies an upload into the upload directory under a unique name.
func (s *Server) store(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

// replaceUpload deletes the previous upload once the session has released it.
func (s *Server) replaceUpload(path string) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	if s.lastUpload != "" && s.lastUpload != path {
		if err := os.Remove(s.lastUpload); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Server", "Failed to remove previous upload: %v", err)
		}
	}
	s.lastUpload = path
}

func (s *Server) handleControl(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrInvalidTransition) || errors.Is(err, frame.ErrEnded) {
				status = http.StatusConflict
			}
			writeError(w, err, status)
			return
		}
		writeJSON(w, s.monitor.Status())
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeError(w http.ResponseWriter, err error, status int) {
	writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
