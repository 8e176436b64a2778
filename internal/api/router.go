// Package api exposes ingestion intake and status over HTTP.
package api

import (
	"net/http"

	"github.com/dvloznov/ledger-ingest/internal/api/handlers"
	"github.com/dvloznov/ledger-ingest/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers served by the router.
type Handlers struct {
	Ingestions   *handlers.IngestionsHandler
	Transactions *handlers.TransactionsHandler
	Health       *handlers.HealthHandler
}

// NewRouter registers every route and wraps the mux in the standard
// middleware chain.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Ingestion endpoints
	mux.HandleFunc("POST /api/ingestions", h.Ingestions.Submit)
	mux.HandleFunc("GET /api/ingestions", h.Ingestions.ListIngestions)
	mux.HandleFunc("GET /api/ingestions/{id}", h.Ingestions.GetIngestion)

	// Transactions endpoints
	mux.HandleFunc("GET /api/transactions", h.Transactions.ListTransactions)

	// Health check endpoint
	mux.HandleFunc("GET /health", h.Health.Health)

	return middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
		middleware.Auth,
	)
}
