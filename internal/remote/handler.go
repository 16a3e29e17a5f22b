package remote

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// Handler serves a Client over the HTTP wire format HTTPClient speaks. It lets
// a Memory store stand in for the real system of record during development.
func Handler(c Client, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		ref, ok := refFromRequest(w, r)
		if !ok {
			return
		}
		doc, err := c.Get(r.Context(), ref)
		writeResult(w, logger, doc, err, http.StatusOK)
	})

	mux.HandleFunc("PATCH /{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		ref, ok := refFromRequest(w, r)
		if !ok {
			return
		}
		var body struct {
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Data) == 0 {
			http.Error(w, "body must be {\"data\": {...}}", http.StatusBadRequest)
			return
		}
		doc, err := c.Update(r.Context(), ref, body.Data)
		writeResult(w, logger, doc, err, http.StatusOK)
	})

	mux.HandleFunc("PUT /{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		ref, ok := refFromRequest(w, r)
		if !ok {
			return
		}
		if r.Header.Get("If-None-Match") != "*" {
			http.Error(w, "only create (If-None-Match: *) is supported", http.StatusPreconditionRequired)
			return
		}
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Data) == 0 {
			http.Error(w, "body must be {\"data\": {...}}", http.StatusBadRequest)
			return
		}
		doc, err := c.Create(r.Context(), ref, body.Data)
		writeResult(w, logger, doc, err, http.StatusCreated)
	})

	return mux
}

func refFromRequest(w http.ResponseWriter, r *http.Request) (model.EntityRef, bool) {
	coll, err := model.ParseCollection(r.PathValue("collection"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return model.EntityRef{}, false
	}
	return model.Ref(coll, r.PathValue("id")), true
}

func writeResult(w http.ResponseWriter, logger *slog.Logger, doc model.Document, err error, okStatus int) {
	if err != nil {
		status := http.StatusUnprocessableEntity
		switch {
		case model.IsTransient(err):
			status = http.StatusServiceUnavailable
		case errors.Is(err, model.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, model.ErrAlreadyExists):
			status = http.StatusPreconditionFailed
		}
		logger.Debug("remote request failed", "status", status, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(okStatus)
	_ = json.NewEncoder(w).Encode(wireDocument{
		ID:        doc.Ref.ID,
		UpdatedAt: doc.UpdatedAt.UTC(),
		Data:      doc.Data,
	})
}
