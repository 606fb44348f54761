package shop

import (
	"context"
	"fmt"
	"time"

	"github.com/randalmurphal/eventfan/pkg/eventfan/dispatch"
	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
)

const (
	orderSource = "order-service"
	userSource  = "user-service"
)

// publishAfter is the step every lifecycle operation shares: persist, then
// announce the result. When publishing fails the persisted entity is still
// returned alongside the error.
func publishAfter[T any](
	ctx context.Context,
	pub dispatch.Publisher,
	persist func(context.Context) (T, error),
	announce func(T) event.Event,
) (T, error) {
	entity, err := persist(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	evt := announce(entity)
	if err := pub.Publish(ctx, evt); err != nil {
		return entity, fmt.Errorf("publish %s: %w", evt.Kind(), err)
	}
	return entity, nil
}

// OrderService creates orders and moves them through their lifecycle.
type OrderService struct {
	store Store
	pub   dispatch.Publisher
	now   func() time.Time
}

// NewOrderService creates an OrderService.
func NewOrderService(store Store, pub dispatch.Publisher) *OrderService {
	return &OrderService{store: store, pub: pub, now: time.Now}
}

// Create validates req, stores a CREATED order and publishes OrderCreated.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (Order, error) {
	if err := validateRequest(req); err != nil {
		return Order{}, err
	}

	return publishAfter(ctx, s.pub,
		func(ctx context.Context) (Order, error) {
			now := s.now().UTC()
			o := Order{
				UserID:    req.UserID,
				Amount:    req.Amount,
				Status:    StatusCreated,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.store.CreateOrder(ctx, &o); err != nil {
				return Order{}, err
			}
			return o, nil
		},
		func(o Order) event.Event {
			return event.New(event.OrderCreated, event.Payload{
				event.KeyOrderID: o.ID,
				event.KeyUserID:  o.UserID,
				event.KeyAmount:  o.Amount,
			}, event.WithSource(orderSource), event.WithTimestamp(o.CreatedAt))
		},
	)
}

// Ship records the tracking number and publishes OrderShipped.
func (s *OrderService) Ship(ctx context.Context, id int64, req ShipOrderRequest) (Order, error) {
	if err := validateRequest(req); err != nil {
		return Order{}, err
	}

	return publishAfter(ctx, s.pub,
		func(ctx context.Context) (Order, error) {
			return s.transition(ctx, id, StatusShipped, func(o *Order) {
				o.TrackingNumber = req.TrackingNumber
			})
		},
		func(o Order) event.Event {
			return event.New(event.OrderShipped, event.Payload{
				event.KeyOrderID:        o.ID,
				event.KeyUserID:         o.UserID,
				event.KeyTrackingNumber: o.TrackingNumber,
			}, event.WithSource(orderSource), event.WithTimestamp(o.UpdatedAt))
		},
	)
}

// Deliver marks a shipped order delivered and publishes OrderDelivered.
func (s *OrderService) Deliver(ctx context.Context, id int64) (Order, error) {
	return publishAfter(ctx, s.pub,
		func(ctx context.Context) (Order, error) {
			return s.transition(ctx, id, StatusDelivered, nil)
		},
		func(o Order) event.Event {
			return event.New(event.OrderDelivered, event.Payload{
				event.KeyOrderID: o.ID,
				event.KeyUserID:  o.UserID,
				event.KeyAmount:  o.Amount,
			}, event.WithSource(orderSource), event.WithTimestamp(o.UpdatedAt))
		},
	)
}

// Get returns the order with id.
func (s *OrderService) Get(ctx context.Context, id int64) (Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *OrderService) transition(ctx context.Context, id int64, next OrderStatus, mutate func(*Order)) (Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !o.Status.CanTransition(next) {
		return Order{}, fmt.Errorf("order %d %s -> %s: %w", id, o.Status, next, ErrInvalidTransition)
	}

	o.Status = next
	o.UpdatedAt = s.now().UTC()
	if mutate != nil {
		mutate(&o)
	}
	if err := s.store.UpdateOrder(ctx, o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// UserService registers users.
type UserService struct {
	store Store
	pub   dispatch.Publisher
	now   func() time.Time
}

// NewUserService creates a UserService.
func NewUserService(store Store, pub dispatch.Publisher) *UserService {
	return &UserService{store: store, pub: pub, now: time.Now}
}

// Register validates req, stores the user and publishes UserRegistered.
// The profile is created later by the UserRegistered listener chain.
func (s *UserService) Register(ctx context.Context, req RegisterUserRequest) (User, error) {
	if err := validateRequest(req); err != nil {
		return User{}, err
	}

	return publishAfter(ctx, s.pub,
		func(ctx context.Context) (User, error) {
			u := User{
				Username:  req.Username,
				Email:     req.Email,
				CreatedAt: s.now().UTC(),
			}
			if err := s.store.CreateUser(ctx, &u); err != nil {
				return User{}, err
			}
			return u, nil
		},
		func(u User) event.Event {
			return event.New(event.UserRegistered, event.Payload{
				event.KeyUserID:   u.ID,
				event.KeyUsername: u.Username,
				event.KeyEmail:    u.Email,
			}, event.WithSource(userSource), event.WithTimestamp(u.CreatedAt))
		},
	)
}

// Get returns the user with id.
func (s *UserService) Get(ctx context.Context, id int64) (User, error) {
	return s.store.GetUser(ctx, id)
}
