package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/metrics"
	"github.com/zoff-tech/go-msgpipe/pkg/pipeline"
	"github.com/zoff-tech/go-msgpipe/pkg/reconciler"
	"github.com/zoff-tech/go-msgpipe/pkg/store"
)

type submitRequest struct {
	Headers map[string]string `json:"headers"`
	Payload json.RawMessage   `json:"payload"`
}

type messageResponse struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Processed    bool     `json:"processed"`
	RetryCount   int      `json:"retryCount"`
	Error        string   `json:"error,omitempty"`
	ExecutionLog []string `json:"executionLog"`
}

func newMessageResponse(msg *message.Context) messageResponse {
	errMsg, _ := msg.ErrorMessage()
	return messageResponse{
		ID:           msg.ID(),
		Type:         msg.Type(),
		Processed:    msg.IsProcessed(),
		RetryCount:   msg.RetryCount(),
		Error:        errMsg,
		ExecutionLog: msg.ExecutionLogLines(),
	}
}

func newRouter(w *worker, log *zap.Logger) *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))

	router.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/messages", func(r chi.Router) {
		r.Post("/{type}", w.submit)
	})
	router.Route("/dead-letters", func(r chi.Router) {
		r.Post("/{id}/replay", w.replay)
	})
	return router
}

// submit runs one message through its pipeline synchronously.
func (w *worker) submit(rw http.ResponseWriter, r *http.Request) {
	messageType := chi.URLParam(r, "type")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	payload, err := w.reconciler.Decode(messageType, req.Payload)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, reconciler.ErrNoDecoder) {
			status = http.StatusNotFound
		}
		writeError(rw, status, err)
		return
	}

	msg := message.New(messageType, payload, message.WithHeaders(req.Headers))
	if err := w.factory.Execute(r.Context(), messageType, msg); err != nil {
		writeError(rw, executeStatus(err), err)
		return
	}

	status := http.StatusOK
	if _, failed := msg.ErrorMessage(); failed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(rw, status, newMessageResponse(msg))
}

func (w *worker) replay(rw http.ResponseWriter, r *http.Request) {
	msg, err := w.reconciler.ReplayByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(rw, http.StatusNotFound, err)
		case errors.Is(err, reconciler.ErrNotDeadLetter):
			writeError(rw, http.StatusBadRequest, err)
		default:
			writeError(rw, executeStatus(err), err)
		}
		return
	}
	writeJSON(rw, http.StatusOK, newMessageResponse(msg))
}

func executeStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrHandlerNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
