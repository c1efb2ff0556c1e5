package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"booking-service/internal/service"
	"booking-service/internal/util"
)

// VerificationHandler handles HTTP requests for phone verification
type VerificationHandler struct {
	verificationService *service.VerificationService
	logger              *zap.Logger
}

// NewVerificationHandler creates a new verification handler
func NewVerificationHandler(verificationService *service.VerificationService, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{
		verificationService: verificationService,
		logger:              logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type startVerificationRequest struct {
	Phone string `json:"phone"`
	Lang  string `json:"lang,omitempty"`
}

type checkVerificationRequest struct {
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	Purpose string `json:"purpose,omitempty"`
}

type checkVerificationResponse struct {
	Verified bool   `json:"verified"`
	Proof    string `json:"proof,omitempty"`
}

// errCodeRejected is the one failure clients see for a wrong, expired, or
// never-issued code. Keeping the reasons indistinguishable stops callers
// from probing which phone numbers have pending challenges.
var errCodeRejected = errors.New("verification code is invalid or expired")

var errLocked = errors.New("too many failed attempts, try again later")

// RegisterRoutes registers all verification routes
func (h *VerificationHandler) RegisterRoutes(router chi.Router) {
	router.Route("/verify-phone", func(r chi.Router) {
		r.Post("/start", h.StartVerification)
		r.Post("/check", h.CheckVerification)
	})
}

// StartVerification issues a verification code and queues it for delivery
func (h *VerificationHandler) StartVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req startVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.verificationService.StartVerification(ctx, req.Phone, req.Lang); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to start verification")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, successResponse(nil, "Verification code sent"))
	h.logger.Info("Verification started via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "StartVerification"),
	)
}

// CheckVerification checks a submitted verification code
func (h *VerificationHandler) CheckVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req checkVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.verificationService.CheckVerification(ctx, req.Phone, req.Code, req.Purpose)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to check verification")
		return
	}

	if !result.Verified {
		if result.LockedUntil != nil {
			h.respondWithError(w, http.StatusTooManyRequests, errLocked, "Verification locked")
			return
		}
		h.respondWithError(w, http.StatusBadRequest, errCodeRejected, "Verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(checkVerificationResponse{
		Verified: true,
		Proof:    result.Proof,
	}, "Phone verified"))
	h.logger.Info("Verification completed via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "CheckVerification"),
	)
}

// respondWithJSON sends a JSON response
func (h *VerificationHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *VerificationHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *VerificationHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrPhoneRequired),
		errors.Is(err, service.ErrCodeRequired),
		errors.Is(err, service.ErrInvalidPhone):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrResendCooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrSendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
