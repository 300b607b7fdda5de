package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/forumbridge/chatbridge/internal/domain"
	"github.com/forumbridge/chatbridge/internal/logging"
)

// Ensure Store implements the domain boundaries
var (
	_ domain.RuleStore        = (*Store)(nil)
	_ domain.IntegrationStore = (*Store)(nil)
)

const (
	integrationPrefix = "integration/"
	rulesPrefix       = "rules/"
)

// Config contains store configuration
type Config struct {
	// Data directory for the badger database
	DataDir string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		DataDir: "./data",
	}
}

// Store persists integrations and notification rules in Badger.
// Rules are kept per room as an ordered list; SetRule appends and
// DeleteRule removes the first exact match, so chat-visible rule
// indices are stable between a status report and a remove command.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// New opens the store at the configured data directory.
func New(config Config) (*Store, error) {
	logger := logging.Component("store")

	options := badger.DefaultOptions(config.DataDir)
	options = options.WithLoggingLevel(badger.WARNING) // Reduce logging noise

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", config.DataDir, err)
	}

	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func integrationKey(room string) []byte {
	return []byte(integrationPrefix + room)
}

func rulesKey(room string) []byte {
	return []byte(rulesPrefix + room)
}

// PutIntegration stores or replaces the integration for a room.
func (s *Store) PutIntegration(integration domain.Integration) error {
	data, err := json.Marshal(integration)
	if err != nil {
		return fmt.Errorf("failed to marshal integration: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(integrationKey(integration.RoomName), data)
	})
}

// GetIntegration returns the integration for a room, if present.
func (s *Store) GetIntegration(room string) (domain.Integration, bool, error) {
	var integration domain.Integration
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(integrationKey(room))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &integration)
		})
	})
	if err != nil {
		return domain.Integration{}, false, fmt.Errorf("failed to read integration for %s: %w", room, err)
	}

	return integration, found, nil
}

// DeleteIntegration removes a room's integration and its rules.
func (s *Store) DeleteIntegration(room string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(integrationKey(room)); err != nil {
			return err
		}
		return txn.Delete(rulesKey(room))
	})
}

// ListIntegrations returns every stored integration, ordered by room name.
func (s *Store) ListIntegrations() ([]domain.Integration, error) {
	var integrations []domain.Integration

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(integrationPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var integration domain.Integration
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &integration)
			})
			if err != nil {
				return err
			}
			integrations = append(integrations, integration)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}

	sort.Slice(integrations, func(i, j int) bool {
		return integrations[i].RoomName < integrations[j].RoomName
	})
	return integrations, nil
}

// GetRoomRules returns the room's rules in insertion order.
func (s *Store) GetRoomRules(room string) ([]domain.Rule, error) {
	var rules []domain.Rule

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rulesKey(room))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rules)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read rules for %s: %w", room, err)
	}

	return rules, nil
}

// SetRule appends a rule to the room's list. Identical rules may coexist;
// the store does not deduplicate.
func (s *Store) SetRule(categoryID *int64, room string, filter domain.FilterKind, tags []string) error {
	rule := domain.Rule{
		CategoryID: categoryID,
		RoomName:   room,
		Filter:     filter,
		Tags:       tags,
	}

	return s.db.Update(func(txn *badger.Txn) error {
		rules, err := readRules(txn, room)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
		return writeRules(txn, room, rules)
	})
}

// DeleteRule removes the first stored rule matching all four fields. A rule
// that matches nothing is a no-op, not an error.
func (s *Store) DeleteRule(categoryID *int64, room string, filter domain.FilterKind, tags []string) error {
	target := domain.Rule{
		CategoryID: categoryID,
		RoomName:   room,
		Filter:     filter,
		Tags:       tags,
	}

	return s.db.Update(func(txn *badger.Txn) error {
		rules, err := readRules(txn, room)
		if err != nil {
			return err
		}

		for i, rule := range rules {
			if sameRule(rule, target) {
				rules = append(rules[:i], rules[i+1:]...)
				if len(rules) == 0 {
					return txn.Delete(rulesKey(room))
				}
				return writeRules(txn, room, rules)
			}
		}
		return nil
	})
}

// ListRules returns all rules grouped by room.
func (s *Store) ListRules() (map[string][]domain.Rule, error) {
	rules := make(map[string][]domain.Rule)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(rulesPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			room := strings.TrimPrefix(string(item.Key()), rulesPrefix)

			var roomRules []domain.Rule
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &roomRules)
			})
			if err != nil {
				return err
			}
			rules[room] = roomRules
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	return rules, nil
}

func readRules(txn *badger.Txn, room string) ([]domain.Rule, error) {
	item, err := txn.Get(rulesKey(room))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var rules []domain.Rule
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rules)
	})
	return rules, err
}

func writeRules(txn *badger.Txn, room string, rules []domain.Rule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return txn.Set(rulesKey(room), data)
}

func sameRule(a, b domain.Rule) bool {
	return sameCategory(a.CategoryID, b.CategoryID) &&
		a.RoomName == b.RoomName &&
		a.Filter == b.Filter &&
		sameTags(a.Tags, b.Tags)
}

func sameCategory(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
