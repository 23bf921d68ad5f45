// Package httpapi is the REST surface: two-phase CSV upload, orders and
// products CRUD, table drops, the joined visualization view, and health and
// metrics endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"csvload/internal/catalog"
	"csvload/internal/detect"
	"csvload/internal/ingest"
	"csvload/internal/metrics"
	"csvload/internal/notify"
	"csvload/internal/staging"
	"csvload/internal/storage"
)

// DefaultMaxUploadBytes bounds a multipart upload request body.
const DefaultMaxUploadBytes = 64 << 20

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// Options wires a Server. Engine, Detector, Staging and Store are required.
type Options struct {
	Engine   *ingest.Engine
	Detector *detect.Detector
	Staging  *staging.Area
	Store    storage.Store

	// Publisher receives every insert report. Nil means notify.Nop.
	Publisher notify.Publisher
	// Metrics serves GET /metrics when set.
	Metrics        http.Handler
	MaxUploadBytes int64
	Logger         ingest.Logger
}

// Server implements http.Handler.
type Server struct {
	eng     *ingest.Engine
	det     *detect.Detector
	area    *staging.Area
	store   storage.Store
	cat     *catalog.Catalog
	pub     notify.Publisher
	maxBody int64
	logger  ingest.Logger

	mux *http.ServeMux
}

func New(opt Options) (*Server, error) {
	if opt.Engine == nil || opt.Detector == nil || opt.Staging == nil || opt.Store == nil {
		return nil, errors.New("httpapi: Engine, Detector, Staging and Store are required")
	}
	s := &Server{
		eng:     opt.Engine,
		det:     opt.Detector,
		area:    opt.Staging,
		store:   opt.Store,
		cat:     catalog.New(opt.Store),
		pub:     opt.Publisher,
		maxBody: opt.MaxUploadBytes,
		logger:  opt.Logger,
		mux:     http.NewServeMux(),
	}
	if s.pub == nil {
		s.pub = notify.Nop{}
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxUploadBytes
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}

	s.handle("POST /api/upload/validate", s.handleValidate)
	s.handle("POST /api/upload/insert", s.handleInsert)

	s.handle("GET /api/orders", s.handleListOrders)
	s.handle("GET /api/orders/{order_id}", s.handleGetOrder)
	s.handle("POST /api/orders", s.handleCreateOrder)
	s.handle("PUT /api/orders/{order_id}", s.handleUpdateOrder)

	s.handle("GET /api/products", s.handleListProducts)
	s.handle("GET /api/products/{product_id}", s.handleGetProduct)
	s.handle("POST /api/products", s.handleCreateProduct)
	s.handle("PUT /api/products/{product_id}", s.handleUpdateProduct)
	s.handle("DELETE /api/products/{product_id}", s.handleDeleteProduct)

	s.handle("DELETE /api/table/{tableName}", s.handleDropTable)

	s.handle("GET /api/visualization/join", s.handleJoin)
	s.handle("GET /api/visualization/summary", s.handleSummary)
	s.handle("GET /api/visualization/charts", s.handleCharts)

	s.handle("GET /healthz", s.handleHealthz)
	s.handle("GET /readyz", s.handleReadyz)
	if opt.Metrics != nil {
		s.mux.Handle("GET /metrics", opt.Metrics)
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handle registers h under pattern and records request metrics labelled by
// the pattern, not the concrete path.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		h(sw, r)
		if sw.code == 0 {
			sw.code = http.StatusOK
		}
		metrics.RecordHTTP(pattern, sw.code, time.Since(start))
	}))
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

type message struct {
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("httpapi: encode response: %v", err)
	}
}

func (s *Server) writeMessage(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, message{Message: msg})
}

// writeError maps domain errors to status codes. notFound is the message
// used for storage.ErrNotFound.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeMessage(w, http.StatusNotFound, notFound)
	case errors.Is(err, storage.ErrConflict):
		s.writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrInvalidRecord), errors.Is(err, catalog.ErrInvalidTable),
		errors.Is(err, staging.ErrInvalidName):
		s.writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Printf("httpapi: %s %s: %v", r.Method, r.URL.Path, err)
		s.writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Printf("httpapi: readyz: %v", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
