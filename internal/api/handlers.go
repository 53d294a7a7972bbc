package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/service"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halaxa_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "halaxa_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint"})
)

// Engine is the slice of the reconciliation service the HTTP layer uses.
type Engine interface {
	CreateLink(ctx context.Context, wallet string, amountUSDC float64, network domain.Network) (*domain.PaymentLink, error)
	GetLink(ctx context.Context, id string) (*domain.PaymentLink, error)
	SignalIntent(ctx context.Context, id, buyerEmail string) (*domain.PaymentLink, error)
	Deactivate(ctx context.Context, id string) error
	Reconcile(ctx context.Context, linkID string) (*domain.VerificationResult, error)
	FindPaymentByHash(ctx context.Context, hash string) (*domain.Payment, error)
}

type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

type createLinkRequest struct {
	WalletAddress string  `json:"wallet_address"`
	Amount        float64 `json:"amount"`
	Network       string  `json:"network"`
}

type intentRequest struct {
	BuyerEmail string `json:"buyer_email"`
}

type linkResponse struct {
	*domain.PaymentLink
	Amount float64 `json:"amount"`
}

func toLinkResponse(link *domain.PaymentLink) linkResponse {
	return linkResponse{PaymentLink: link, Amount: domain.USDCFromMicro(link.AmountMicro)}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateLinkHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/links"))
	defer timer.ObserveDuration()

	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/links", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	link, err := h.engine.CreateLink(r.Context(), req.WalletAddress, req.Amount, domain.Network(req.Network))
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/links", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/links", "201").Inc()
	respondWithJSON(w, http.StatusCreated, toLinkResponse(link))
}

func (h *Handler) GetLinkHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	link, err := h.engine.GetLink(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			httpRequestsTotal.WithLabelValues("GET", "/links/{id}", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Payment link not found")
			return
		}
		httpRequestsTotal.WithLabelValues("GET", "/links/{id}", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/links/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, toLinkResponse(link))
}

func (h *Handler) SignalIntentHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req intentRequest
	if r.Body != nil {
		// Buyer info is optional; an empty or malformed body is not fatal.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	link, err := h.engine.SignalIntent(r.Context(), id, req.BuyerEmail)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrLinkNotFound):
			httpRequestsTotal.WithLabelValues("POST", "/links/{id}/intent", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Payment link not found")
		case errors.Is(err, service.ErrLinkInactive):
			httpRequestsTotal.WithLabelValues("POST", "/links/{id}/intent", "410").Inc()
			respondWithError(w, http.StatusGone, "Payment link is no longer active")
		default:
			httpRequestsTotal.WithLabelValues("POST", "/links/{id}/intent", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/links/{id}/intent", "200").Inc()
	respondWithJSON(w, http.StatusOK, toLinkResponse(link))
}

func (h *Handler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/links/{id}/verify"))
	defer timer.ObserveDuration()

	id := mux.Vars(r)["id"]

	result, err := h.engine.Reconcile(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			httpRequestsTotal.WithLabelValues("POST", "/links/{id}/verify", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Payment link not found")
			return
		}
		// Persistence failures are retryable; the buyer never sees the
		// internals.
		httpRequestsTotal.WithLabelValues("POST", "/links/{id}/verify", "503").Inc()
		respondWithError(w, http.StatusServiceUnavailable, "Verification temporarily unavailable, please retry")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/links/{id}/verify", "200").Inc()
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) DeactivateLinkHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.engine.Deactivate(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrLinkNotFound):
			httpRequestsTotal.WithLabelValues("POST", "/links/{id}/deactivate", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Payment link not found")
		case errors.Is(err, store.ErrInvalidTransition):
			httpRequestsTotal.WithLabelValues("POST", "/links/{id}/deactivate", "409").Inc()
			respondWithError(w, http.StatusConflict, "Link cannot be deactivated in its current state")
		default:
			httpRequestsTotal.WithLabelValues("POST", "/links/{id}/deactivate", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/links/{id}/deactivate", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": domain.StatusInactive})
}

func (h *Handler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]

	payment, err := h.engine.FindPaymentByHash(r.Context(), hash)
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/payments/{hash}", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if payment == nil {
		httpRequestsTotal.WithLabelValues("GET", "/payments/{hash}", "404").Inc()
		respondWithError(w, http.StatusNotFound, "Payment not found")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/payments/{hash}", "200").Inc()
	respondWithJSON(w, http.StatusOK, payment)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
