package directory

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/forumbridge/chatbridge/internal/domain"
	"github.com/forumbridge/chatbridge/internal/gitter"
	"github.com/forumbridge/chatbridge/internal/logging"
	"github.com/forumbridge/chatbridge/internal/metrics"
)

// Ensure Directory implements domain.RoomResolver
var _ domain.RoomResolver = (*Directory)(nil)

// RoomLister lists the rooms visible to the bot's credential.
type RoomLister interface {
	ListRooms(ctx context.Context) ([]gitter.Room, error)
}

// Directory resolves room names to chat service room ids. Entries are
// cached without expiry: a cache miss triggers one full reload of the
// room list, and a room renamed on the chat service keeps its stale
// entry until the bridge restarts. Repeated lookups of a name the
// service does not know reload the directory every time; room churn is
// low enough that this stays cheap.
type Directory struct {
	client  RoomLister
	mu      sync.Mutex
	rooms   map[string]string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a directory backed by the given room lister.
func New(client RoomLister) *Directory {
	return &Directory{
		client:  client,
		logger:  logging.Component("directory"),
		metrics: metrics.GetMetrics(),
	}
}

// Resolve returns the room id for a name. On a cache miss it reloads the
// entire directory from the chat service before answering.
func (d *Directory) Resolve(ctx context.Context, name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.rooms[name]; ok {
		return id, true
	}

	rooms, err := d.client.ListRooms(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Str("room", name).Msg("Room directory refresh failed")
		return "", false
	}
	d.metrics.DirectoryRefreshesTotal.Inc()

	d.rooms = make(map[string]string, len(rooms))
	for _, room := range rooms {
		d.rooms[room.Name] = room.ID
	}

	id, ok := d.rooms[name]
	if !ok {
		d.metrics.DirectoryMissesTotal.Inc()
		d.logger.Warn().Str("room", name).Msg("Room not visible to the bot credential")
	}
	return id, ok
}
