// Package shop holds the order and user lifecycle services that publish
// events, and the listeners that react to them.
package shop

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrDuplicate         = errors.New("already exists")
	ErrStoreClosed       = errors.New("store is closed")
)

// OrderStatus is a step in the order lifecycle.
type OrderStatus string

const (
	StatusCreated   OrderStatus = "CREATED"
	StatusShipped   OrderStatus = "SHIPPED"
	StatusDelivered OrderStatus = "DELIVERED"
)

// CanTransition reports whether an order may move from s to next.
// Orders only move forward one step at a time.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case StatusCreated:
		return next == StatusShipped
	case StatusShipped:
		return next == StatusDelivered
	default:
		return false
	}
}

// Order is a customer order.
type Order struct {
	ID             int64       `json:"id"`
	UserID         int64       `json:"userId"`
	Amount         float64     `json:"amount"`
	Status         OrderStatus `json:"status"`
	TrackingNumber string      `json:"trackingNumber,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// User is a registered customer.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	ProfileCreated bool      `json:"profileCreated"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CreateOrderRequest places an order.
type CreateOrderRequest struct {
	UserID int64   `json:"userId" validate:"required,gt=0"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

// ShipOrderRequest marks an order shipped.
type ShipOrderRequest struct {
	TrackingNumber string `json:"trackingNumber" validate:"required,max=64"`
}

// RegisterUserRequest registers a user.
type RegisterUserRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
}

// ValidationError lists the request fields that failed validation, keyed by
// field name with the failed rule as value.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", field, rule))
	}
	return fmt.Sprintf("invalid request: %s", strings.Join(parts, ", "))
}

// Unwrap lets errors.Is match ErrInvalidRequest.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}
