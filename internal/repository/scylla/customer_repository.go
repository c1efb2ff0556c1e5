package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"booking-service/internal/models"
	"booking-service/internal/util"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrEmailTaken       = errors.New("email already in use")
	ErrPhoneTaken       = errors.New("phone already in use")
)

// CustomerRepository persists customers plus two lookup tables
// (customers_by_email, customers_by_phone) that double as uniqueness guards:
// a lookup row is inserted with IF NOT EXISTS before the main row, so two
// concurrent registrations for the same email or phone cannot both win.
type CustomerRepository struct {
	client *ScyllaClient
}

func NewCustomerRepository(client *ScyllaClient) *CustomerRepository {
	return &CustomerRepository{client: client}
}

func (r *CustomerRepository) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now

	if err := r.claimEmail(ctx, customer.Email, customer.CustomerID); err != nil {
		return err
	}

	if err := r.claimPhone(ctx, customer.PhoneE164, customer.CustomerID); err != nil {
		// Roll back the email claim so a retry is possible.
		if relErr := r.client.Prepared.DeleteEmailLookup.Bind(customer.Email).WithContext(ctx).Exec(); relErr != nil {
			util.Error("failed to release email lookup after phone conflict",
				zap.Error(relErr))
		}
		return err
	}

	query := r.client.Prepared.CreateCustomer.Bind(
		customer.CustomerID, customer.Email, customer.Name, customer.PasswordHash,
		customer.PhoneE164, customer.PhoneVerified, customer.CreatedAt, customer.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("failed to create customer",
			zap.String("customer_id", customer.CustomerID),
			zap.Error(err))
		return fmt.Errorf("failed to create customer: %w", err)
	}

	util.Info("customer created",
		zap.String("customer_id", customer.CustomerID))
	return nil
}

func (r *CustomerRepository) claimEmail(ctx context.Context, email, customerID string) error {
	var existingID string
	applied, err := r.client.Query(`
        INSERT INTO customers_by_email (email, customer_id) VALUES (?, ?) IF NOT EXISTS`,
		email, customerID).WithContext(ctx).ScanCAS(&existingID)
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		return ErrEmailTaken
	}
	return nil
}

func (r *CustomerRepository) claimPhone(ctx context.Context, phoneE164, customerID string) error {
	var existingID string
	applied, err := r.client.Prepared.CreatePhoneLookupRow.Bind(
		phoneE164, customerID).WithContext(ctx).ScanCAS(&existingID)
	if err != nil {
		return fmt.Errorf("failed to claim phone: %w", err)
	}
	if !applied {
		return ErrPhoneTaken
	}
	return nil
}

func (r *CustomerRepository) GetCustomerByID(ctx context.Context, customerID string) (*models.Customer, error) {
	customer := &models.Customer{}

	err := r.client.Prepared.GetCustomerByID.Bind(customerID).WithContext(ctx).Scan(
		&customer.CustomerID, &customer.Email, &customer.Name, &customer.PasswordHash,
		&customer.PhoneE164, &customer.PhoneVerified, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return customer, nil
}

// EmailInUse reports whether any customer has claimed the email.
func (r *CustomerRepository) EmailInUse(ctx context.Context, email string) (bool, error) {
	var customerID string
	err := r.client.Prepared.GetCustomerByEmail.Bind(email).WithContext(ctx).Scan(&customerID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return true, nil
}

// PhoneInUse reports whether any customer has claimed the phone number.
func (r *CustomerRepository) PhoneInUse(ctx context.Context, phoneE164 string) (bool, error) {
	var customerID string
	err := r.client.Prepared.GetCustomerByPhone.Bind(phoneE164).WithContext(ctx).Scan(&customerID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check phone: %w", err)
	}
	return true, nil
}

// UpdateCustomerPhone moves a customer to a new, verified phone number,
// claiming the new lookup row and releasing the old one.
func (r *CustomerRepository) UpdateCustomerPhone(ctx context.Context, customerID, phoneE164 string) (*models.Customer, error) {
	customer, err := r.GetCustomerByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.PhoneE164 == phoneE164 {
		return customer, nil
	}

	if err := r.claimPhone(ctx, phoneE164, customerID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := r.client.Prepared.UpdateCustomerPhone.Bind(
		phoneE164, true, now, customerID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return nil, fmt.Errorf("failed to update customer phone: %w", err)
	}

	if err := r.client.Prepared.DeletePhoneLookup.Bind(customer.PhoneE164).WithContext(ctx).Exec(); err != nil {
		util.Warn("failed to release old phone lookup",
			zap.String("customer_id", customerID),
			zap.Error(err))
	}

	customer.PhoneE164 = phoneE164
	customer.PhoneVerified = true
	customer.UpdatedAt = now

	util.Info("customer phone updated",
		zap.String("customer_id", customerID))
	return customer, nil
}
