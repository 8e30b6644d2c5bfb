package session

import "sync"

// Notification is the interface for all presentation-layer notifications.
type Notification interface {
	// NotificationType returns the notification type string.
	NotificationType() string
}

// UnitCreated is published when a new translation unit opens.
type UnitCreated struct {
	Unit TranslationUnit
}

func (UnitCreated) NotificationType() string { return "unit.created" }

// UnitUpdated is published on every non-terminal text change of the open unit.
type UnitUpdated struct {
	Unit TranslationUnit
}

func (UnitUpdated) NotificationType() string { return "unit.updated" }

// UnitFinalized is published exactly once per completed unit.
type UnitFinalized struct {
	Unit      TranslationUnit
	Recovered bool
}

func (UnitFinalized) NotificationType() string { return "unit.finalized" }

// StatusChanged carries lifecycle transitions and non-fatal failures.
type StatusChanged struct {
	State   LifecycleState
	Message string
	Err     *Error
}

func (StatusChanged) NotificationType() string { return "status.changed" }

// Notifier fans notifications out to a single presentation consumer.
// Subscribing replaces any previous listener: last subscriber wins, matching
// the one-UI-consumer model.
type Notifier struct {
	mu       sync.Mutex
	listener func(Notification)
}

// Subscribe installs the listener, replacing any previous one.
func (n *Notifier) Subscribe(fn func(Notification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = fn
}

func (n *Notifier) publish(note Notification) {
	n.mu.Lock()
	fn := n.listener
	n.mu.Unlock()
	if fn != nil {
		fn(note)
	}
}
