// Package httpapi is the HTTP surface consumed by the Supervisor core
// (spec.md §6): multipart upload validation, JSON response shaping, and the
// health endpoint. It is specified only as a boundary/client contract, so
// this implementation is deliberately thin — grounded on
// divitsinghall-Vortex's internal/api package (chi routes, WriteJSON/
// WriteError helpers, a health handler reading pool state).
package httpapi

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/NumericFactory/ocr-service-paddle/internal/ocr"
)

// pdfMagic is the 4-byte signature every PDF file starts with.
var pdfMagic = []byte("%PDF")

// Submitter is the subset of *pipeline.Pipeline the handler depends on.
type Submitter interface {
	Submit(pdfBytes []byte, clientRequestID string) (ocr.Result, error)
}

// PoolStatus is the subset of *ocr.Pool the health handler depends on.
type PoolStatus interface {
	Stats() ocr.PoolStats
	AnyReady() bool
}

// Handler holds the HTTP surface's dependencies.
type Handler struct {
	pipeline      Submitter
	pool          PoolStatus
	maxUploadSize int64
}

// New constructs a Handler. maxUploadSizeBytes bounds the request body the
// same way http.MaxBytesReader does — oversized uploads are a bad-input
// failure that never reaches the Supervisor (spec.md §7).
func New(pipeline Submitter, pool PoolStatus, maxUploadSizeBytes int64) *Handler {
	return &Handler{pipeline: pipeline, pool: pool, maxUploadSize: maxUploadSizeBytes}
}

// Routes registers the service's endpoints on a chi.Router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/ocr", h.handleOCR)
	r.Get("/health", h.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}

type ocrResponse struct {
	Text      string `json:"text"`
	PageCount *int   `json:"page_count"`
}

func (h *Handler) handleOCR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "bad-input", "upload exceeds the maximum allowed size")
			return
		}
		writeError(w, http.StatusBadRequest, "bad-input", "missing \"file\" form field")
		return
	}
	defer file.Close()

	pdfBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad-input", "upload could not be read")
		return
	}

	if !bytes.HasPrefix(pdfBytes, pdfMagic) {
		writeError(w, http.StatusBadRequest, "bad-input", "uploaded file is not a PDF")
		return
	}

	// traceID is a log-correlation id for this HTTP call, independent of the
	// domain-level 4-hex clientRequestID the queue/pool track (spec.md §3).
	// Grounded on divitsinghall-Vortex's handlers.go, which mints one
	// uuid.New().String() per inbound call for the same purpose.
	traceID := uuid.New().String()
	clientRequestID := newClientRequestID()
	result, err := h.pipeline.Submit(pdfBytes, clientRequestID)
	if err != nil {
		status, code := statusForErr(err)
		log.Info().Str("trace_id", traceID).Str("request_id", clientRequestID).Str("code", code).Err(err).Msg("httpapi: ocr request failed")
		writeError(w, status, code, err.Error())
		return
	}

	log.Info().Str("trace_id", traceID).Str("request_id", clientRequestID).Msg("httpapi: ocr request succeeded")
	writeJSON(w, http.StatusOK, ocrResponse{Text: result.Text, PageCount: result.PageCount})
}

type healthResponse struct {
	Status     string           `json:"status"`
	QueueDepth int              `json:"queue_depth"`
	Workers    []ocr.WorkerStat `json:"workers"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.pool.Stats()
	if !h.pool.AnyReady() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:     "down",
			QueueDepth: stats.QueueDepth,
			Workers:    stats.Workers,
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		QueueDepth: stats.QueueDepth,
		Workers:    stats.Workers,
	})
}

// newClientRequestID mints the 4-hex-char id spec.md §3 assigns to each
// queue entry — distinct from the Worker-scoped 16-hex request id.
func newClientRequestID() string {
	buf := make([]byte, 2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
