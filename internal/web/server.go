package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"image-shrinker-go/internal/cache"
	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/compressor"
	"image-shrinker-go/internal/config"
	"image-shrinker-go/internal/fileutil"
	"image-shrinker-go/internal/logger"
	"image-shrinker-go/internal/metadata"
	"image-shrinker-go/internal/sizer"
	"image-shrinker-go/internal/statistics"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	encoder    compressor.SizeEncoder
	results    *cache.ResultCache
	checker    compressor.MarkChecker
	marker     metadata.Marker
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current batch state
	operationMutex sync.RWMutex
	isRunning      bool
	jobID          string
	cancel         context.CancelFunc
	currentStats   *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type BatchRequest struct {
	InputPaths      []string `json:"input_paths"`
	TargetDirectory string   `json:"target_directory,omitempty"`
	Target          string   `json:"target,omitempty"`
	Quality         float64  `json:"quality,omitempty"`
	DryRun          bool     `json:"dry_run"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Option configures optional collaborators of the Server.
type Option func(*Server)

// WithMarkChecker lets batch jobs skip files that carry the compression mark.
func WithMarkChecker(checker compressor.MarkChecker) Option {
	return func(s *Server) { s.checker = checker }
}

// WithMarker lets batch jobs copy EXIF and mark JPEG outputs.
func WithMarker(marker metadata.Marker) Option {
	return func(s *Server) { s.marker = marker }
}

func NewServer(cfg *config.Config, log *logrus.Logger, encoder compressor.SizeEncoder, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		encoder:   encoder,
		results:   cache.NewResultCache(cfg.Performance.CacheSize),
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.operationMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	maxUpload := int64(s.cfg.Server.MaxUploadMB) * fileutil.MB
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read upload: %v", err), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		s.writeError(w, "File is empty", http.StatusBadRequest)
		return
	}

	target, err := s.parseTarget(r.FormValue("target"), int64(len(data)))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	quality, err := s.parseQuality(r.FormValue("quality"))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	srcMime := codec.DetectMIME(data)
	if srcMime == "" {
		srcMime = codec.MIMEFromPath(header.Filename)
	}
	outMime := codec.OutputMIME(srcMime)

	log := logger.WithFileOperation(s.log, header.Filename, "compress")
	key := cache.NewKey(data, outMime, target, quality)
	result, hit := s.results.Get(key)
	if !hit {
		result, err = s.encoder.Encode(r.Context(), sizer.EncodeRequest{
			Source:         data,
			MimeType:       outMime,
			TargetSize:     target,
			InitialQuality: quality,
		})
		if err != nil {
			log.Errorf("Compression failed: %v", err)
			switch {
			case errors.Is(err, sizer.ErrDecode):
				s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, sizer.ErrInvalidTarget):
				s.writeError(w, err.Error(), http.StatusBadRequest)
			default:
				s.writeError(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		s.results.Put(key, result)
	}

	mimeType := result.MimeType
	if result.Attempts == 0 && srcMime != "" {
		mimeType = srcMime
	}
	name := fileutil.CompressedFileName(fileutil.SanitizeFileName(header.Filename), int64(result.Size()), codec.Extension(mimeType))

	log.WithFields(logrus.Fields{
		"size":     result.Size(),
		"target":   target,
		"attempts": result.Attempts,
		"cached":   hit,
	}).Info("Upload compressed")

	h := w.Header()
	h.Set("Content-Type", mimeType)
	h.Set("Content-Length", strconv.Itoa(result.Size()))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("X-Quality", strconv.FormatFloat(result.Quality, 'f', 2, 64))
	h.Set("X-Width", strconv.Itoa(result.Width))
	h.Set("X-Height", strconv.Itoa(result.Height))
	h.Set("X-Attempts", strconv.Itoa(result.Attempts))
	h.Set("X-Within-Tolerance", strconv.FormatBool(result.WithinTolerance))
	if hit {
		h.Set("X-Cache", "hit")
	} else {
		h.Set("X-Cache", "miss")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Bytes); err != nil {
		log.Warnf("Failed to write response: %v", err)
	}
}

// parseTarget resolves the requested size. An empty value falls back to the
// configured default target, then to half the original.
func (s *Server) parseTarget(value string, originalSize int64) (int64, error) {
	var target int64
	if strings.TrimSpace(value) != "" {
		n, err := fileutil.ParseSize(value)
		if err != nil {
			return 0, fmt.Errorf("invalid target: %v", err)
		}
		target = n
	} else {
		n, err := s.cfg.DefaultTargetBytes()
		if err != nil {
			return 0, err
		}
		target = n
	}
	if target == 0 {
		target = fileutil.DefaultTarget(originalSize)
	}
	if err := checkTargetLimit(target); err != nil {
		return 0, err
	}
	return target, nil
}

// checkTargetLimit caps targets accepted over HTTP.
func checkTargetLimit(target int64) error {
	if target > fileutil.MaxTargetBytes {
		return fmt.Errorf("target %s exceeds the %s limit", fileutil.FormatFileSize(target), fileutil.FormatFileSize(fileutil.MaxTargetBytes))
	}
	return nil
}

func (s *Server) parseQuality(value string) (float64, error) {
	if strings.TrimSpace(value) == "" {
		return s.cfg.Encoder.DefaultQuality, nil
	}
	q, err := strconv.ParseFloat(value, 64)
	if err != nil || q <= 0 || q > 1 {
		return 0, fmt.Errorf("quality must be in (0,1], got %q", value)
	}
	return q, nil
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.InputPaths) == 0 {
		s.writeError(w, "At least one input path is required", http.StatusBadRequest)
		return
	}
	for _, p := range req.InputPaths {
		if _, err := os.Stat(p); err != nil {
			s.writeError(w, fmt.Sprintf("Input path does not exist: %s", p), http.StatusBadRequest)
			return
		}
	}
	if req.Quality < 0 || req.Quality > 1 {
		s.writeError(w, "Quality must be in (0,1]", http.StatusBadRequest)
		return
	}

	var target int64
	if req.Target != "" {
		n, err := fileutil.ParseSize(req.Target)
		if err != nil {
			s.writeError(w, fmt.Sprintf("Invalid target: %v", err), http.StatusBadRequest)
			return
		}
		target = n
	} else {
		n, err := s.cfg.DefaultTargetBytes()
		if err != nil {
			s.writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		target = n
	}
	if err := checkTargetLimit(target); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	targetDir := req.TargetDirectory
	if targetDir == "" {
		targetDir = s.cfg.Processing.TargetDirectory
	}
	quality := req.Quality
	if quality == 0 {
		quality = s.cfg.Encoder.DefaultQuality
	}
	params := compressor.CompressionParams{
		InputPaths:     req.InputPaths,
		TargetDir:      targetDir,
		TargetSize:     target,
		InitialQuality: quality,
		Formats:        s.cfg.Processing.SupportedExtensions,
		Workers:        s.cfg.Performance.WorkerThreads,
		DryRun:         req.DryRun,
		MarkCompressed: s.cfg.Processing.MarkCompressed,
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	jobID := uuid.NewString()
	stats := statistics.NewStatistics()
	s.isRunning = true
	s.jobID = jobID
	s.cancel = cancel
	s.currentStats = stats
	s.operationMutex.Unlock()

	go s.runBatchAsync(ctx, jobID, stats, params)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Batch started",
		Data:    map[string]string{"job_id": jobID},
	})
}

func (s *Server) runBatchAsync(ctx context.Context, jobID string, stats *statistics.Statistics, params compressor.CompressionParams) {
	log := logger.WithJob(s.log, jobID)
	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"job_id":      jobID,
		"input_paths": params.InputPaths,
		"target_size": params.TargetSize,
		"dry_run":     params.DryRun,
	})

	opts := []compressor.Option{
		compressor.WithStatistics(stats),
		compressor.WithProgress(func(done, total int, res compressor.CompressionResult) {
			s.broadcastWSMessage("batch_progress", map[string]interface{}{
				"job_id":  jobID,
				"done":    done,
				"total":   total,
				"file":    res.InputPath,
				"output":  res.OutputPath,
				"action":  res.Action,
				"size":    res.CompressedSize,
				"message": res.Message,
			})
		}),
	}
	if s.cfg.Processing.SkipCompressed && s.checker != nil {
		opts = append(opts, compressor.WithMarkChecker(s.checker))
	}
	if s.marker != nil {
		opts = append(opts, compressor.WithMarker(s.marker))
	}

	comp := compressor.NewDefaultCompressor(s.encoder, log, opts...)
	_, err := comp.Compress(ctx, params)

	s.operationMutex.Lock()
	if s.jobID == jobID {
		s.isRunning = false
		s.cancel = nil
	}
	s.operationMutex.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		log.Info("Batch stopped")
		s.broadcastWSMessage("batch_stopped", map[string]interface{}{
			"job_id":     jobID,
			"statistics": stats.GetSummary(),
		})
	case err != nil:
		log.Errorf("Batch failed: %v", err)
		s.broadcastWSMessage("batch_error", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	default:
		log.Info("Batch completed")
		s.broadcastWSMessage("batch_completed", map[string]interface{}{
			"job_id":     jobID,
			"statistics": stats.GetSummary(),
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	jobID := s.jobID
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"job_id":     jobID,
			"statistics": statsData,
			"cache":      s.results.Stats(),
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary": stats.GetSummary(),
			"errors":  stats.GetErrorSummary(),
			"files":   stats.Snapshot(),
		},
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.Lock()
	running := s.isRunning
	jobID := s.jobID
	if running && s.cancel != nil {
		s.cancel()
	}
	s.operationMutex.Unlock()

	if !running {
		s.writeError(w, "No operation in progress", http.StatusConflict)
		return
	}

	s.broadcastWSMessage("operation_stopped", map[string]interface{}{
		"job_id":  jobID,
		"message": "Operation stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Operation stopped",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcastWSMessage sends to every client. Connections allow a single
// concurrent writer, so the lock is held for the whole broadcast.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
