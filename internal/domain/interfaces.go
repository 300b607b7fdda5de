package domain

import "context"

// RuleStore reads and writes notification rules for rooms.
type RuleStore interface {
	// GetRoomRules returns the room's rules in their stored order. A room
	// with no rules yields an empty slice, not an error.
	GetRoomRules(room string) ([]Rule, error)

	// SetRule appends a rule. Duplicates are permitted.
	SetRule(categoryID *int64, room string, filter FilterKind, tags []string) error

	// DeleteRule removes the first stored rule matching all four fields.
	DeleteRule(categoryID *int64, room string, filter FilterKind, tags []string) error
}

// IntegrationStore manages the room name -> chat room bindings.
type IntegrationStore interface {
	PutIntegration(integration Integration) error
	GetIntegration(room string) (Integration, bool, error)
	DeleteIntegration(room string) error
	ListIntegrations() ([]Integration, error)
}

// Messenger delivers one plain-text message into a chat room. The boolean
// result reports delivery; failures are not retried here.
type Messenger interface {
	Send(ctx context.Context, roomID, text string) bool
}

// RoomResolver maps a room name to the chat service's opaque room id.
type RoomResolver interface {
	Resolve(ctx context.Context, name string) (string, bool)
}

// ForumLookup resolves forum categories and tags for rule validation.
type ForumLookup interface {
	CategoryByName(ctx context.Context, name string) (Category, bool, error)
	CategoryByID(ctx context.Context, id int64) (Category, bool, error)

	// TagsByName splits the given names into those that exist on the forum
	// and those that do not, preserving input order.
	TagsByName(ctx context.Context, names []string) (found, missing []string, err error)
}
