package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"booking-service/internal/models"
	"booking-service/internal/proof"
	"booking-service/internal/service"
	"booking-service/internal/util"
)

// CustomerHandler handles HTTP requests for customer operations
type CustomerHandler struct {
	customerService *service.CustomerService
	logger          *zap.Logger
}

// NewCustomerHandler creates a new customer handler
func NewCustomerHandler(customerService *service.CustomerService, logger *zap.Logger) *CustomerHandler {
	return &CustomerHandler{
		customerService: customerService,
		logger:          logger,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Proof    string `json:"proof"`
}

type updatePhoneRequest struct {
	Phone string `json:"phone"`
	Proof string `json:"proof"`
}

type customerResponse struct {
	CustomerID    string `json:"customer_id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	PhoneE164     string `json:"phone_e164"`
	PhoneVerified bool   `json:"phone_verified"`
}

func toCustomerResponse(c *models.Customer) customerResponse {
	return customerResponse{
		CustomerID:    c.CustomerID,
		Email:         c.Email,
		Name:          c.Name,
		PhoneE164:     c.PhoneE164,
		PhoneVerified: c.PhoneVerified,
	}
}

// RegisterRoutes registers all customer routes
func (h *CustomerHandler) RegisterRoutes(router chi.Router) {
	router.Route("/customers", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Get("/{customerID}", h.GetCustomer)
		r.Patch("/{customerID}/phone", h.UpdatePhone)
	})
}

// Register creates a customer account from a phone-verified registration
func (h *CustomerHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	customer, err := h.customerService.Register(ctx, service.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Phone:    req.Phone,
		Proof:    req.Proof,
	})
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to register customer")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(toCustomerResponse(customer), "Customer registered successfully"))
	h.logger.Info("Customer registered via HTTP",
		util.String("customer_id", customer.CustomerID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// GetCustomer retrieves a customer by ID
func (h *CustomerHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := chi.URLParam(r, "customerID")
	if customerID == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("customer ID is required"), "Invalid customer ID")
		return
	}

	customer, err := h.customerService.GetCustomer(ctx, customerID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get customer")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(toCustomerResponse(customer), "Customer retrieved successfully"))
}

// UpdatePhone switches a customer to a newly verified phone number
func (h *CustomerHandler) UpdatePhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	customerID := chi.URLParam(r, "customerID")
	if customerID == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("customer ID is required"), "Invalid customer ID")
		return
	}

	var req updatePhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	customer, err := h.customerService.UpdatePhone(ctx, customerID, req.Phone, req.Proof)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to update phone")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(toCustomerResponse(customer), "Phone updated successfully"))
	h.logger.Info("Customer phone updated via HTTP",
		util.String("customer_id", customerID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "UpdatePhone"),
	)
}

// respondWithJSON sends a JSON response
func (h *CustomerHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *CustomerHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *CustomerHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrEmailRequired),
		errors.Is(err, service.ErrPasswordRequired),
		errors.Is(err, service.ErrPhoneRequired),
		errors.Is(err, service.ErrProofRequired):
		return http.StatusBadRequest
	case errors.Is(err, proof.ErrInvalidProof), errors.Is(err, proof.ErrProofMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrEmailInUse), errors.Is(err, service.ErrPhoneInUse):
		return http.StatusConflict
	case errors.Is(err, service.ErrCustomerNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
