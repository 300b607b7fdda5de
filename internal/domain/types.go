package domain

// FilterKind controls how matching forum activity is surfaced to a chat room.
type FilterKind string

const (
	FilterWatch  FilterKind = "watch"
	FilterFollow FilterKind = "follow"
	FilterMute   FilterKind = "mute"
)

// ParseFilterKind returns the filter kind for a verb, if it names one.
func ParseFilterKind(s string) (FilterKind, bool) {
	switch FilterKind(s) {
	case FilterWatch, FilterFollow, FilterMute:
		return FilterKind(s), true
	}
	return "", false
}

// Integration binds a forum-side room name to an external chat room id and
// an outbound webhook target. One per room, created via the admin surface.
type Integration struct {
	RoomName   string `json:"room"`
	RoomID     string `json:"room_id"`
	WebhookURL string `json:"webhook"`
}

// Rule is a notification-matching record for one room. A nil CategoryID
// means the rule matches all categories.
type Rule struct {
	CategoryID *int64     `json:"category_id"`
	RoomName   string     `json:"room"`
	Filter     FilterKind `json:"filter"`
	Tags       []string   `json:"tags,omitempty"`
}

// Category is a forum category as seen by lookups.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ChatEvent is one inbound chat message, already attributed to a room.
type ChatEvent struct {
	Room     string
	RoomID   string
	Text     string
	FromUser string
}
