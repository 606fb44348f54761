package shop_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventfan/pkg/eventfan/config"
	"github.com/randalmurphal/eventfan/pkg/eventfan/dispatch"
	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/listener"
	"github.com/randalmurphal/eventfan/pkg/eventfan/pool"
	"github.com/randalmurphal/eventfan/pkg/eventfan/shop"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newStore(t *testing.T) *shop.SQLiteStore {
	t.Helper()
	store, err := shop.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// capturePublisher records published events and returns err.
type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *capturePublisher) last() event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type harness struct {
	store    *shop.SQLiteStore
	activity *shop.ActivityLog
	orders   *shop.OrderService
	users    *shop.UserService
	outbound *captureListener
}

type captureListener struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *captureListener) Handle(_ context.Context, evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captureListener) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newHarness(t *testing.T, options map[string]any) *harness {
	t.Helper()

	p, err := pool.New(pool.Config{
		CorePoolSize:  4,
		MaxPoolSize:   8,
		QueueCapacity: 16,
		Logger:        discard,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown(2 * time.Second) })

	reg := listener.NewRegistry()
	d := dispatch.New(reg, p, dispatch.Config{Logger: discard})

	h := &harness{
		store:    newStore(t),
		activity: shop.NewActivityLog(0),
		outbound: &captureListener{},
	}
	require.NoError(t, shop.RegisterListeners(reg, d, shop.Deps{
		Store:    h.store,
		Activity: h.activity,
		Outbound: h.outbound,
		Options:  config.NewOptions(options),
		Logger:   discard,
	}))
	reg.Seal()

	h.orders = shop.NewOrderService(h.store, d)
	h.users = shop.NewUserService(h.store, d)
	return h
}

func TestOrderStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to shop.OrderStatus
		want     bool
	}{
		{shop.StatusCreated, shop.StatusShipped, true},
		{shop.StatusShipped, shop.StatusDelivered, true},
		{shop.StatusCreated, shop.StatusDelivered, false},
		{shop.StatusShipped, shop.StatusCreated, false},
		{shop.StatusDelivered, shop.StatusShipped, false},
		{shop.StatusDelivered, shop.StatusDelivered, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSQLiteStore_Orders(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	o := shop.Order{UserID: 7, Amount: 99.99, Status: shop.StatusCreated, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateOrder(ctx, &o))
	assert.Positive(t, o.ID)

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.InDelta(t, 99.99, got.Amount, 0.0001)
	assert.Equal(t, shop.StatusCreated, got.Status)
	assert.True(t, now.Equal(got.CreatedAt))

	got.Status = shop.StatusShipped
	got.TrackingNumber = "TRK-1"
	require.NoError(t, store.UpdateOrder(ctx, got))

	again, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, shop.StatusShipped, again.Status)
	assert.Equal(t, "TRK-1", again.TrackingNumber)

	_, err = store.GetOrder(ctx, 999)
	assert.ErrorIs(t, err, shop.ErrNotFound)
	assert.ErrorIs(t, store.UpdateOrder(ctx, shop.Order{ID: 999}), shop.ErrNotFound)
}

func TestSQLiteStore_Users(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	u := shop.User{Username: "alice", Email: "alice@example.com", CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(ctx, &u))
	assert.Positive(t, u.ID)

	dup := shop.User{Username: "alice", Email: "other@example.com", CreatedAt: time.Now()}
	assert.ErrorIs(t, store.CreateUser(ctx, &dup), shop.ErrDuplicate)

	require.NoError(t, store.MarkProfileCreated(ctx, u.ID))
	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.ProfileCreated)
	assert.Equal(t, "alice@example.com", got.Email)

	assert.ErrorIs(t, store.MarkProfileCreated(ctx, 999), shop.ErrNotFound)
	_, err = store.GetUser(ctx, 999)
	assert.ErrorIs(t, err, shop.ErrNotFound)
}

func TestSQLiteStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")
	ctx := context.Background()

	store1, err := shop.NewSQLiteStore(path)
	require.NoError(t, err)
	o := shop.Order{UserID: 1, Amount: 5, Status: shop.StatusCreated, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, store1.CreateOrder(ctx, &o))
	require.NoError(t, store1.Close())

	store2, err := shop.NewSQLiteStore(path)
	require.NoError(t, err)
	defer store2.Close()

	got, err := store2.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UserID)
}

func TestSQLiteStore_Closed(t *testing.T) {
	store, err := shop.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())

	_, err = store.GetOrder(context.Background(), 1)
	assert.ErrorIs(t, err, shop.ErrStoreClosed)
	assert.ErrorIs(t, store.CreateUser(context.Background(), &shop.User{}), shop.ErrStoreClosed)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := shop.NewSQLiteStore("/nonexistent/path/shop.db")
	assert.Error(t, err)
}

func TestOrderService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	svc := shop.NewOrderService(newStore(t), pub)

	o, err := svc.Create(ctx, shop.CreateOrderRequest{UserID: 7, Amount: 99.99})
	require.NoError(t, err)
	assert.Equal(t, shop.StatusCreated, o.Status)

	evt := pub.last()
	assert.Equal(t, event.OrderCreated, evt.Kind())
	assert.Equal(t, o.ID, evt.Int64(event.KeyOrderID, 0))
	assert.Equal(t, int64(7), evt.Int64(event.KeyUserID, 0))
	assert.InDelta(t, 99.99, evt.Float64(event.KeyAmount, 0), 0.0001)
	assert.Equal(t, "order-service", evt.Source())

	_, err = svc.Deliver(ctx, o.ID)
	assert.ErrorIs(t, err, shop.ErrInvalidTransition)

	shipped, err := svc.Ship(ctx, o.ID, shop.ShipOrderRequest{TrackingNumber: "TRK-42"})
	require.NoError(t, err)
	assert.Equal(t, shop.StatusShipped, shipped.Status)
	assert.Equal(t, event.OrderShipped, pub.last().Kind())
	assert.Equal(t, "TRK-42", pub.last().String(event.KeyTrackingNumber, ""))

	_, err = svc.Ship(ctx, o.ID, shop.ShipOrderRequest{TrackingNumber: "TRK-43"})
	assert.ErrorIs(t, err, shop.ErrInvalidTransition)

	delivered, err := svc.Deliver(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, shop.StatusDelivered, delivered.Status)
	assert.Equal(t, event.OrderDelivered, pub.last().Kind())

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, shop.StatusDelivered, got.Status)
	assert.Equal(t, "TRK-42", got.TrackingNumber)

	pub.mu.Lock()
	assert.Len(t, pub.events, 3)
	pub.mu.Unlock()
}

func TestOrderService_Validation(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	svc := shop.NewOrderService(newStore(t), pub)

	_, err := svc.Create(ctx, shop.CreateOrderRequest{UserID: 0, Amount: -1})
	require.ErrorIs(t, err, shop.ErrInvalidRequest)

	var verr *shop.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Fields["UserID"])
	assert.Equal(t, "gt", verr.Fields["Amount"])

	_, err = svc.Ship(ctx, 1, shop.ShipOrderRequest{})
	assert.ErrorIs(t, err, shop.ErrInvalidRequest)

	_, err = svc.Ship(ctx, 999, shop.ShipOrderRequest{TrackingNumber: "TRK"})
	assert.ErrorIs(t, err, shop.ErrNotFound)

	assert.Empty(t, pub.events)
}

func TestOrderService_PublishFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{err: errors.New("audit down")}
	svc := shop.NewOrderService(newStore(t), pub)

	o, err := svc.Create(ctx, shop.CreateOrderRequest{UserID: 7, Amount: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish order.created")
	assert.Positive(t, o.ID)

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, shop.StatusCreated, got.Status)
}

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	svc := shop.NewUserService(newStore(t), pub)

	u, err := svc.Register(ctx, shop.RegisterUserRequest{Username: "bob", Email: "bob@example.com"})
	require.NoError(t, err)
	assert.False(t, u.ProfileCreated)

	evt := pub.last()
	assert.Equal(t, event.UserRegistered, evt.Kind())
	assert.Equal(t, u.ID, evt.Int64(event.KeyUserID, 0))
	assert.Equal(t, "bob", evt.String(event.KeyUsername, ""))

	_, err = svc.Register(ctx, shop.RegisterUserRequest{Username: "bob", Email: "bob2@example.com"})
	assert.ErrorIs(t, err, shop.ErrDuplicate)

	_, err = svc.Register(ctx, shop.RegisterUserRequest{Username: "x", Email: "not-an-email"})
	var verr *shop.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "min", verr.Fields["Username"])
	assert.Equal(t, "email", verr.Fields["Email"])
}

func TestOrderCreated_FanOut(t *testing.T) {
	h := newHarness(t, nil)

	start := time.Now()
	o, err := h.orders.Create(context.Background(), shop.CreateOrderRequest{UserID: 7, Amount: 99.99})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "create must not wait for async listeners")

	entries := h.activity.Entries()
	require.Len(t, entries, 1, "only the sync audit has run")
	assert.Equal(t, shop.ListenerAudit, entries[0].Listener)
	assert.Equal(t, shop.PublisherThread, entries[0].Worker)
	assert.Contains(t, entries[0].Detail, "amount 99.99")

	require.Eventually(t, func() bool { return h.activity.Len() == 3 }, time.Second, 10*time.Millisecond)

	var workers []string
	for _, name := range []string{shop.ListenerConfirmationEmail, shop.ListenerInventoryReservation} {
		a, ok := h.activity.Find(name, h.activity.Entries()[0].EventID)
		require.True(t, ok, name)
		assert.True(t, strings.HasPrefix(a.Worker, "event-worker-"), a.Worker)
		workers = append(workers, a.Worker)
	}
	assert.NotEqual(t, workers[0], workers[1])

	// Inventory (300ms) finishes before email (500ms).
	entries = h.activity.Entries()
	assert.Equal(t, shop.ListenerInventoryReservation, entries[1].Listener)
	assert.Equal(t, shop.ListenerConfirmationEmail, entries[2].Listener)
	assert.Contains(t, entries[1].Detail, fmt.Sprintf("order %d", o.ID))
}

func TestRegistrationChain(t *testing.T) {
	h := newHarness(t, map[string]any{
		shop.ListenerWelcomeEmail: map[string]any{"delay": "10ms"},
		shop.ListenerProfileSetup: map[string]any{"delay": "10ms"},
	})
	ctx := context.Background()

	u, err := h.users.Register(ctx, shop.RegisterUserRequest{Username: "carol", Email: "carol@example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.outbound.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.activity.Len() == 6 }, time.Second, 10*time.Millisecond)

	got, err := h.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.ProfileCreated)

	entries := h.activity.Entries()
	chain := h.activity.ByCorrelation(entries[0].CorrelationID)
	assert.Len(t, chain, 6, "every event in the chain shares the root correlation id")

	byName := make(map[string]shop.Activity)
	for _, a := range chain {
		byName[a.Listener] = a
	}
	for _, name := range []string{
		shop.ListenerAudit,
		shop.ListenerWelcomeEmail,
		shop.ListenerProfileSetup,
		shop.ListenerProfileMarker,
		shop.ListenerExternalNotifier,
		shop.ListenerOutboundDelivery,
	} {
		assert.Contains(t, byName, name)
	}

	// The sync marker on the derived event ran on the worker that published it.
	assert.Equal(t, byName[shop.ListenerProfileSetup].Worker, byName[shop.ListenerProfileMarker].Worker)
	assert.Equal(t, event.UserProfileCreation, byName[shop.ListenerProfileMarker].Kind)

	h.outbound.mu.Lock()
	delivered := h.outbound.events[0]
	h.outbound.mu.Unlock()
	assert.Equal(t, event.ExternalSystemNotification, delivered.Kind())
	assert.Equal(t, shop.DefaultTarget, delivered.String(event.KeyTarget, ""))
	assert.Equal(t, u.ID, delivered.Int64(event.KeyUserID, 0))
}

func TestRegisterListeners_Options(t *testing.T) {
	reg := listener.NewRegistry()
	err := shop.RegisterListeners(reg, &capturePublisher{}, shop.Deps{
		Store:    newStore(t),
		Activity: shop.NewActivityLog(0),
		Options: config.NewOptions(map[string]any{
			shop.ListenerConfirmationEmail:    map[string]any{"rank": 30},
			shop.ListenerInventoryReservation: map[string]any{"enabled": false},
		}),
	})
	require.NoError(t, err)

	regs := reg.Resolve(event.OrderCreated)
	require.Len(t, regs, 2)
	assert.Equal(t, shop.ListenerAudit, regs[0].Name)
	assert.Equal(t, shop.ListenerConfirmationEmail, regs[1].Name)
	assert.Equal(t, 30, regs[1].Rank)

	assert.ElementsMatch(t, event.Kinds(), reg.Kinds())
}

func TestRegisterListeners_RequiresDeps(t *testing.T) {
	reg := listener.NewRegistry()
	assert.Error(t, shop.RegisterListeners(reg, &capturePublisher{}, shop.Deps{Store: newStore(t)}))
	assert.Error(t, shop.RegisterListeners(reg, &capturePublisher{}, shop.Deps{Activity: shop.NewActivityLog(0)}))

	reg.Seal()
	err := shop.RegisterListeners(reg, &capturePublisher{}, shop.Deps{Store: newStore(t), Activity: shop.NewActivityLog(0)})
	assert.ErrorIs(t, err, listener.ErrSealed)
}

func TestActivityLog_Limit(t *testing.T) {
	log := shop.NewActivityLog(2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		log.Record(ctx, "l", event.New(event.OrderCreated, nil, event.WithEventID(string(rune('a'+i)))), "")
	}

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].EventID)
	assert.Equal(t, "c", entries[1].EventID)
	assert.Equal(t, shop.PublisherThread, entries[0].Worker)

	_, ok := log.Find("l", "a")
	assert.False(t, ok)
}
