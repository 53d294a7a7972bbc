package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/api"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/chain"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/config"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/match"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/service"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ledger, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer ledger.Close()

	polygon, err := chain.NewPolygonAdapter(cfg.PolygonRPCURL, cfg.PolygonUSDC)
	if err != nil {
		log.Fatalf("Polygon adapter: %v", err)
	}
	solana, err := chain.NewSolanaAdapter(cfg.SolanaRPCURL, cfg.SolanaUSDC, cfg.SignatureLimit, cfg.DetailWorkers)
	if err != nil {
		log.Fatalf("Solana adapter: %v", err)
	}

	// Initialize Layers
	matcher := match.New(domain.MicroFromUSDC(cfg.ToleranceUSDC), cfg.Window)
	reconciler := service.NewReconciler(ledger, chain.NewRegistry(polygon, solana), matcher, cfg.RPCTimeout)
	handler := api.NewHandler(reconciler)

	if cfg.PollerEnabled {
		poller := service.NewPoller(reconciler, ledger, cfg.PollerInterval)
		go poller.Run(context.Background())
	}

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/links", handler.CreateLinkHandler).Methods("POST")
	apiV1.HandleFunc("/links/{id}", handler.GetLinkHandler).Methods("GET")
	apiV1.HandleFunc("/links/{id}/intent", handler.SignalIntentHandler).Methods("POST")
	apiV1.HandleFunc("/links/{id}/verify", handler.VerifyHandler).Methods("POST")
	apiV1.HandleFunc("/links/{id}/deactivate", handler.DeactivateLinkHandler).Methods("POST")
	apiV1.HandleFunc("/payments/{hash}", handler.GetPaymentHandler).Methods("GET")

	log.Printf("Server starting on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
