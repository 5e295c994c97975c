package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger_backend/internal/models"
	"stockledger_backend/internal/repositories"
)

var ErrCustomerNotFound = errors.New("customer not found")

// CreateCustomerRequest is the payload for registering a customer. Purchase
// aggregates are owned by the sale flow and cannot be set directly.
type CreateCustomerRequest struct {
	FullName    string  `json:"full_name" binding:"required"`
	PhoneNumber *string `json:"phone_number"`
	Email       *string `json:"email"`
}

type CustomerService interface {
	CreateCustomer(ownerID int64, req CreateCustomerRequest) (*models.Customer, error)
	GetCustomerByID(ownerID, customerID int64) (*models.Customer, error)
	GetCustomers(ownerID int64, page, pageSize int, searchTerm *string) ([]models.Customer, int, error)
	ApplySale(ownerID, customerID int64, amount float64, purchasedAt time.Time) error
	ReverseSale(ownerID, customerID int64, amount float64) error
}

type customerService struct {
	customerRepo repositories.CustomerRepository
}

// NewCustomerService creates a new instance of CustomerService.
func NewCustomerService(customerRepo repositories.CustomerRepository) CustomerService {
	return &customerService{customerRepo: customerRepo}
}

func (s *customerService) CreateCustomer(ownerID int64, req CreateCustomerRequest) (*models.Customer, error) {
	if strings.TrimSpace(req.FullName) == "" {
		return nil, fmt.Errorf("%w: full name is required", ErrValidation)
	}

	customer := &models.Customer{
		OwnerID:     ownerID,
		FullName:    strings.TrimSpace(req.FullName),
		PhoneNumber: req.PhoneNumber,
		Email:       req.Email,
	}

	id, err := s.customerRepo.CreateCustomer(customer)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	created, err := s.customerRepo.GetCustomerByID(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load created customer: %w", err)
	}
	return created, nil
}

func (s *customerService) GetCustomerByID(ownerID, customerID int64) (*models.Customer, error) {
	customer, err := s.customerRepo.GetCustomerByID(ownerID, customerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return customer, nil
}

func (s *customerService) GetCustomers(ownerID int64, page, pageSize int, searchTerm *string) ([]models.Customer, int, error) {
	customers, total, err := s.customerRepo.GetCustomers(ownerID, page, pageSize, searchTerm)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get customers: %w", err)
	}
	return customers, total, nil
}

// ApplySale bumps the customer's purchase count, lifetime spend and last
// purchase date after a completed sale.
func (s *customerService) ApplySale(ownerID, customerID int64, amount float64, purchasedAt time.Time) error {
	if err := s.customerRepo.ApplySaleAggregate(ownerID, customerID, amount, purchasedAt); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrCustomerNotFound
		}
		return fmt.Errorf("failed to apply sale aggregate: %w", err)
	}
	return nil
}

// ReverseSale rolls the aggregates back after a sale is deleted. The last
// purchase date is left alone; reconstructing it would require a scan of the
// customer's remaining sales.
func (s *customerService) ReverseSale(ownerID, customerID int64, amount float64) error {
	if err := s.customerRepo.ReverseSaleAggregate(ownerID, customerID, amount); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrCustomerNotFound
		}
		return fmt.Errorf("failed to reverse sale aggregate: %w", err)
	}
	return nil
}
