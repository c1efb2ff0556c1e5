package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-service/internal/hashing"
	"booking-service/internal/models"
	"booking-service/internal/phone"
	"booking-service/internal/proof"
	"booking-service/internal/repository/scylla"
	"booking-service/internal/util"
)

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrProofRequired    = errors.New("verification proof is required")
	ErrEmailInUse       = errors.New("email already in use")
	ErrPhoneInUse       = errors.New("phone number already in use")
	ErrCustomerNotFound = errors.New("customer not found")
)

// CustomerRepository is the persistence surface CustomerService needs.
// Implemented by the Scylla repository.
type CustomerRepository interface {
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	GetCustomerByID(ctx context.Context, customerID string) (*models.Customer, error)
	UpdateCustomerPhone(ctx context.Context, customerID, phoneE164 string) (*models.Customer, error)
}

// CustomerService handles account operations that require a verified phone.
// Callers must present a verification proof minted by the verification
// service; the phone inside the proof is the one that gets stored.
type CustomerService struct {
	repo       CustomerRepository
	hasher     *hashing.Hasher
	normalizer *phone.Normalizer
	issuer     *proof.Issuer
}

func NewCustomerService(repo CustomerRepository, hasher *hashing.Hasher, normalizer *phone.Normalizer, issuer *proof.Issuer) *CustomerService {
	return &CustomerService{
		repo:       repo,
		hasher:     hasher,
		normalizer: normalizer,
		issuer:     issuer,
	}
}

// RegisterInput is everything a registration request carries. Phone is the
// number the client claims; it must match the proof after normalization.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
	Phone    string
	Proof    string
}

func (s *CustomerService) Register(ctx context.Context, input RegisterInput) (*models.Customer, error) {
	if input.Email == "" {
		return nil, ErrEmailRequired
	}
	if input.Password == "" {
		return nil, ErrPasswordRequired
	}
	if input.Phone == "" {
		return nil, ErrPhoneRequired
	}
	if input.Proof == "" {
		return nil, ErrProofRequired
	}

	phoneE164 := s.normalizer.Normalize(input.Phone)

	verifiedPhone, err := s.issuer.Consume(input.Proof, phoneE164, proof.PurposeRegistration)
	if err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	customer := &models.Customer{
		CustomerID:    uuid.New().String(),
		Email:         input.Email,
		Name:          util.SanitizeInput(input.Name),
		PasswordHash:  passwordHash,
		PhoneE164:     verifiedPhone,
		PhoneVerified: true,
	}

	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		switch {
		case errors.Is(err, scylla.ErrEmailTaken):
			return nil, ErrEmailInUse
		case errors.Is(err, scylla.ErrPhoneTaken):
			return nil, ErrPhoneInUse
		}
		return nil, fmt.Errorf("failed to register customer: %w", err)
	}

	util.Info("customer registered",
		zap.String("customer_id", customer.CustomerID),
		zap.String("phone", phone.Mask(customer.PhoneE164)))
	return customer, nil
}

// UpdatePhone switches a customer to a new phone number that was just
// OTP-verified for the phone_update purpose.
func (s *CustomerService) UpdatePhone(ctx context.Context, customerID, rawPhone, proofToken string) (*models.Customer, error) {
	if rawPhone == "" {
		return nil, ErrPhoneRequired
	}
	if proofToken == "" {
		return nil, ErrProofRequired
	}

	phoneE164 := s.normalizer.Normalize(rawPhone)

	verifiedPhone, err := s.issuer.Consume(proofToken, phoneE164, proof.PurposePhoneUpdate)
	if err != nil {
		return nil, err
	}

	customer, err := s.repo.UpdateCustomerPhone(ctx, customerID, verifiedPhone)
	if err != nil {
		switch {
		case errors.Is(err, scylla.ErrCustomerNotFound):
			return nil, ErrCustomerNotFound
		case errors.Is(err, scylla.ErrPhoneTaken):
			return nil, ErrPhoneInUse
		}
		return nil, fmt.Errorf("failed to update customer phone: %w", err)
	}

	return customer, nil
}

func (s *CustomerService) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, scylla.ErrCustomerNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return customer, nil
}
