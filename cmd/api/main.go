package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/config"
	imetrics "github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/metrics"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/storage"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StateResponse is the state rebuilt from the event log, which may be ahead
// of the stored view.
type StateResponse struct {
	TransactionID string        `json:"transactionId"`
	Status        models.Status `json:"status"`
	Events        int           `json:"events"`
	Transient     bool          `json:"transient"`
	Refundable    bool          `json:"refundable"`
}

type EventResponse struct {
	ID            string           `json:"id"`
	EventCode     models.EventCode `json:"eventCode"`
	CreationDate  string           `json:"creationDate"`
	SchemaVersion string           `json:"schemaVersion"`
	Data          models.EventData `json:"data,omitempty"`
}

func main() {
	cfg, err := config.Load(config.MustEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	imetrics.Serve(cfg.MetricsAddr)
	store, err := storage.Open(context.Background(), cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	addr := cfg.APIAddr
	log.Info().Str("addr", addr).Msg("api listening")
	if err := http.ListenAndServe(addr, routes(store)); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

func routes(store storage.Store) chi.Router {
	r := chi.NewRouter()
	r.Get("/transactions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		v, err := store.FindView(req.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeJSONError(w, "transaction not found", http.StatusNotFound)
			} else {
				writeJSONError(w, "internal server error", http.StatusInternalServerError)
				log.Error().Err(err).Str("transactionId", id).Msg("failed to get transaction view")
			}
			return
		}
		writeJSON(w, v)
	})
	r.Get("/transactions/{id}/events", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		events, err := store.FindByTransactionIDOrderByCreationDateAsc(req.Context(), id)
		if err != nil {
			writeJSONError(w, "internal server error", http.StatusInternalServerError)
			log.Error().Err(err).Str("transactionId", id).Msg("failed to get transaction events")
			return
		}
		if len(events) == 0 {
			writeJSONError(w, "transaction not found", http.StatusNotFound)
			return
		}
		out := make([]EventResponse, len(events))
		for i, ev := range events {
			out[i] = EventResponse{
				ID:            ev.ID,
				EventCode:     ev.Code,
				CreationDate:  ev.CreationDate.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
				SchemaVersion: string(ev.Version),
				Data:          ev.Data,
			}
		}
		writeJSON(w, out)
	})
	r.Get("/transactions/{id}/state", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		events, err := store.FindByTransactionIDOrderByCreationDateAsc(req.Context(), id)
		if err != nil {
			writeJSONError(w, "internal server error", http.StatusInternalServerError)
			log.Error().Err(err).Str("transactionId", id).Msg("failed to get transaction events")
			return
		}
		if len(events) == 0 {
			writeJSONError(w, "transaction not found", http.StatusNotFound)
			return
		}
		tx, err := transaction.Reduce(events)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, StateResponse{
			TransactionID: id,
			Status:        tx.Status(),
			Events:        len(events),
			Transient:     transaction.IsTransient(tx.Status()),
			Refundable:    transaction.IsRefundable(tx),
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}
