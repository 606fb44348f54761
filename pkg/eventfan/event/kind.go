package event

// Order lifecycle kinds.
const (
	OrderCreated   Kind = "order.created"
	OrderShipped   Kind = "order.shipped"
	OrderDelivered Kind = "order.delivered"
)

// User lifecycle kinds.
const (
	UserRegistered      Kind = "user.registered"
	UserProfileCreation Kind = "user.profile_creation"
)

// ExternalSystemNotification is emitted when a fact must leave the process.
const ExternalSystemNotification Kind = "external.notification"

// Payload keys shared by the lifecycle kinds.
const (
	KeyOrderID        = "orderId"
	KeyUserID         = "userId"
	KeyAmount         = "amount"
	KeyTrackingNumber = "trackingNumber"
	KeyUsername       = "username"
	KeyEmail          = "email"
	KeyTarget         = "target"
)

// Kinds returns every built-in kind.
func Kinds() []Kind {
	return []Kind{
		OrderCreated,
		OrderShipped,
		OrderDelivered,
		UserRegistered,
		UserProfileCreation,
		ExternalSystemNotification,
	}
}
