package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/eventfan/pkg/eventfan/config"
	"github.com/randalmurphal/eventfan/pkg/eventfan/dispatch"
	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/listener"
	"github.com/randalmurphal/eventfan/pkg/eventfan/observability"
)

// Listener names. Each is also the key of its knobs in the listeners config
// section (rank, delay, enabled).
const (
	ListenerAudit                = "audit"
	ListenerConfirmationEmail    = "confirmation_email"
	ListenerInventoryReservation = "inventory_reservation"
	ListenerShippingNotice       = "shipping_notice"
	ListenerAnalytics            = "analytics"
	ListenerFeedbackRequest      = "feedback_request"
	ListenerWelcomeEmail         = "welcome_email"
	ListenerProfileSetup         = "profile_setup"
	ListenerProfileMarker        = "profile_marker"
	ListenerExternalNotifier     = "external_notifier"
	ListenerOutboundDelivery     = "outbound_delivery"
)

// DefaultTarget is the external system notified after profile creation.
const DefaultTarget = "crm"

// Deps are the collaborators the shop listeners need.
type Deps struct {
	Store    Store
	Activity *ActivityLog

	// Outbound delivers ExternalSystemNotification events out of process.
	// Nil records the delivery without sending anything.
	Outbound listener.Listener

	// Options is the listeners config section.
	Options config.Options

	Logger *slog.Logger
}

type binding struct {
	kind  event.Kind
	name  string
	mode  listener.Mode
	rank  int
	delay time.Duration
	fn    func(ctx context.Context, evt event.Event) (string, error)
}

// RegisterListeners wires the shop's listeners into reg. pub is the
// dispatcher the chaining listeners publish derived events through.
func RegisterListeners(reg *listener.Registry, pub dispatch.Publisher, deps Deps) error {
	if deps.Activity == nil {
		return errors.New("shop listeners: nil activity log")
	}
	if deps.Store == nil {
		return errors.New("shop listeners: nil store")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &shopListeners{pub: pub, deps: deps}

	bindings := []binding{
		{event.OrderCreated, ListenerAudit, listener.Sync, 0, 0, s.audit},
		{event.OrderCreated, ListenerConfirmationEmail, listener.Async, 10, 500 * time.Millisecond, s.confirmationEmail},
		{event.OrderCreated, ListenerInventoryReservation, listener.Async, 20, 300 * time.Millisecond, s.reserveInventory},

		{event.OrderShipped, ListenerAudit, listener.Sync, 0, 0, s.audit},
		{event.OrderShipped, ListenerShippingNotice, listener.Async, 10, 200 * time.Millisecond, s.shippingNotice},

		{event.OrderDelivered, ListenerAudit, listener.Sync, 0, 0, s.audit},
		{event.OrderDelivered, ListenerAnalytics, listener.Async, 10, 100 * time.Millisecond, s.analytics},
		{event.OrderDelivered, ListenerFeedbackRequest, listener.Async, 20, 200 * time.Millisecond, s.feedbackRequest},

		{event.UserRegistered, ListenerAudit, listener.Sync, 0, 0, s.audit},
		{event.UserRegistered, ListenerWelcomeEmail, listener.Async, 10, 300 * time.Millisecond, s.welcomeEmail},
		{event.UserRegistered, ListenerProfileSetup, listener.Async, 20, 100 * time.Millisecond, s.profileSetup},

		{event.UserProfileCreation, ListenerProfileMarker, listener.Sync, 0, 0, s.markProfile},
		{event.UserProfileCreation, ListenerExternalNotifier, listener.Async, 10, 0, s.notifyExternal},

		{event.ExternalSystemNotification, ListenerOutboundDelivery, listener.Async, 10, 0, s.deliverOutbound},
	}

	for _, b := range bindings {
		opts := deps.Options.Section(b.name)
		if !opts.Bool("enabled", true) {
			continue
		}
		l := s.record(b.name, opts.Duration("delay", b.delay), b.fn)
		if err := reg.Register(b.kind, l, b.mode, opts.Int("rank", b.rank), listener.WithName(b.name)); err != nil {
			return fmt.Errorf("register %s for %s: %w", b.name, b.kind, err)
		}
	}
	return nil
}

type shopListeners struct {
	pub  dispatch.Publisher
	deps Deps
}

// record wraps fn with its simulated latency and the activity log entry.
func (s *shopListeners) record(name string, delay time.Duration, fn func(context.Context, event.Event) (string, error)) listener.Listener {
	return listener.Func(func(ctx context.Context, evt event.Event) error {
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		detail, err := fn(ctx, evt)
		if err != nil {
			return err
		}
		s.deps.Activity.Record(ctx, name, evt, detail)
		observability.EnrichLogger(s.deps.Logger, evt).Debug(detail, slog.String("listener", name))
		return nil
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *shopListeners) audit(_ context.Context, evt event.Event) (string, error) {
	switch evt.Kind() {
	case event.OrderCreated:
		return fmt.Sprintf("order %d created for user %d, amount %.2f",
			evt.Int64(event.KeyOrderID, 0), evt.Int64(event.KeyUserID, 0), evt.Float64(event.KeyAmount, 0)), nil
	case event.OrderShipped:
		return fmt.Sprintf("order %d shipped, tracking %s",
			evt.Int64(event.KeyOrderID, 0), evt.String(event.KeyTrackingNumber, "")), nil
	case event.OrderDelivered:
		return fmt.Sprintf("order %d delivered", evt.Int64(event.KeyOrderID, 0)), nil
	case event.UserRegistered:
		return fmt.Sprintf("user %d registered as %s",
			evt.Int64(event.KeyUserID, 0), evt.String(event.KeyUsername, "")), nil
	default:
		return fmt.Sprintf("%s received", evt.Kind()), nil
	}
}

func (s *shopListeners) confirmationEmail(_ context.Context, evt event.Event) (string, error) {
	return fmt.Sprintf("confirmation email for order %d sent to user %d",
		evt.Int64(event.KeyOrderID, 0), evt.Int64(event.KeyUserID, 0)), nil
}

func (s *shopListeners) reserveInventory(_ context.Context, evt event.Event) (string, error) {
	return fmt.Sprintf("inventory reserved for order %d", evt.Int64(event.KeyOrderID, 0)), nil
}

func (s *shopListeners) shippingNotice(_ context.Context, evt event.Event) (string, error) {
	return fmt.Sprintf("shipping notice for order %d, tracking %s",
		evt.Int64(event.KeyOrderID, 0), evt.String(event.KeyTrackingNumber, "")), nil
}

func (s *shopListeners) analytics(_ context.Context, evt event.Event) (string, error) {
	return fmt.Sprintf("delivery of order %d recorded, amount %.2f",
		evt.Int64(event.KeyOrderID, 0), evt.Float64(event.KeyAmount, 0)), nil
}

func (s *shopListeners) feedbackRequest(_ context.Context, evt event.Event) (string, error) {
	return fmt.Sprintf("feedback requested from user %d", evt.Int64(event.KeyUserID, 0)), nil
}

func (s *shopListeners) welcomeEmail(_ context.Context, evt event.Event) (string, error) {
	return fmt.Sprintf("welcome email sent to %s", evt.String(event.KeyEmail, "")), nil
}

// profileSetup starts the registration chain.
func (s *shopListeners) profileSetup(ctx context.Context, evt event.Event) (string, error) {
	userID := evt.Int64(event.KeyUserID, 0)
	derived := event.NewFromParent(evt, event.UserProfileCreation, event.Payload{
		event.KeyUserID:   userID,
		event.KeyUsername: evt.String(event.KeyUsername, ""),
	}, event.WithSource(ListenerProfileSetup))

	if err := s.pub.Publish(ctx, derived); err != nil {
		return "", fmt.Errorf("publish profile creation: %w", err)
	}
	return fmt.Sprintf("profile creation requested for user %d", userID), nil
}

func (s *shopListeners) markProfile(ctx context.Context, evt event.Event) (string, error) {
	userID := evt.Int64(event.KeyUserID, 0)
	if err := s.deps.Store.MarkProfileCreated(ctx, userID); err != nil {
		return "", err
	}
	return fmt.Sprintf("profile created for user %d", userID), nil
}

func (s *shopListeners) notifyExternal(ctx context.Context, evt event.Event) (string, error) {
	target := s.deps.Options.Section(ListenerExternalNotifier).String("target", DefaultTarget)
	userID := evt.Int64(event.KeyUserID, 0)
	derived := event.NewFromParent(evt, event.ExternalSystemNotification, event.Payload{
		event.KeyUserID:   userID,
		event.KeyUsername: evt.String(event.KeyUsername, ""),
		event.KeyTarget:   target,
	}, event.WithSource(ListenerExternalNotifier))

	if err := s.pub.Publish(ctx, derived); err != nil {
		return "", fmt.Errorf("publish external notification: %w", err)
	}
	return fmt.Sprintf("external notification queued for user %d", userID), nil
}

func (s *shopListeners) deliverOutbound(ctx context.Context, evt event.Event) (string, error) {
	target := evt.String(event.KeyTarget, DefaultTarget)
	if s.deps.Outbound == nil {
		return fmt.Sprintf("notification for %s dropped, no outbound configured", target), nil
	}
	if err := s.deps.Outbound.Handle(ctx, evt); err != nil {
		return "", err
	}
	return fmt.Sprintf("notification delivered to %s", target), nil
}
