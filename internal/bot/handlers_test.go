package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumbridge/chatbridge/internal/domain"
)

type fakeStore struct {
	rules     map[string][]domain.Rule
	mutations int
	panicOn   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: make(map[string][]domain.Rule)}
}

func (s *fakeStore) GetRoomRules(room string) ([]domain.Rule, error) {
	if s.panicOn == "get" {
		panic("store blew up")
	}
	return s.rules[room], nil
}

func (s *fakeStore) SetRule(categoryID *int64, room string, filter domain.FilterKind, tags []string) error {
	s.mutations++
	s.rules[room] = append(s.rules[room], domain.Rule{
		CategoryID: categoryID,
		RoomName:   room,
		Filter:     filter,
		Tags:       tags,
	})
	return nil
}

func (s *fakeStore) DeleteRule(categoryID *int64, room string, filter domain.FilterKind, tags []string) error {
	s.mutations++
	for i, rule := range s.rules[room] {
		if rule.Filter == filter {
			s.rules[room] = append(s.rules[room][:i], s.rules[room][i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeForum struct {
	categories map[string]domain.Category
	tags       map[string]struct{}
}

func newFakeForum() *fakeForum {
	return &fakeForum{
		categories: map[string]domain.Category{
			"General":      {ID: 5, Name: "General"},
			"SomeCategory": {ID: 9, Name: "SomeCategory"},
		},
		tags: map[string]struct{}{"a": {}, "x": {}},
	}
}

func (f *fakeForum) CategoryByName(ctx context.Context, name string) (domain.Category, bool, error) {
	cat, ok := f.categories[name]
	return cat, ok, nil
}

func (f *fakeForum) CategoryByID(ctx context.Context, id int64) (domain.Category, bool, error) {
	for _, cat := range f.categories {
		if cat.ID == id {
			return cat, true, nil
		}
	}
	return domain.Category{}, false, nil
}

func (f *fakeForum) TagsByName(ctx context.Context, names []string) (found, missing []string, err error) {
	for _, name := range names {
		if _, ok := f.tags[name]; ok {
			found = append(found, name)
		} else {
			missing = append(missing, name)
		}
	}
	return found, missing, nil
}

type fakeMessenger struct {
	sent []string
}

func (m *fakeMessenger) Send(ctx context.Context, roomID, text string) bool {
	m.sent = append(m.sent, text)
	return true
}

func newTestHandler() (*Handler, *fakeStore, *fakeMessenger) {
	store := newFakeStore()
	messenger := &fakeMessenger{}
	handler := NewHandler(
		Config{CommandPrefix: "/discourse", PermittedUsers: []string{"alice"}},
		store, newFakeForum(), messenger,
	)
	return handler, store, messenger
}

func event(text, user string) domain.ChatEvent {
	return domain.ChatEvent{Room: "gopher/lobby", RoomID: "room-1", Text: text, FromUser: user}
}

func TestNonCommandIgnored(t *testing.T) {
	handler, store, messenger := newTestHandler()

	handler.HandleMessage(context.Background(), event("just chatting about go", "alice"))
	handler.HandleMessage(context.Background(), event("", "alice"))

	assert.Empty(t, messenger.sent)
	assert.Zero(t, store.mutations)
}

func TestUnauthorizedUser(t *testing.T) {
	handler, store, messenger := newTestHandler()

	handler.HandleMessage(context.Background(), event("/discourse watch General", "mallory"))

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "mallory")
	assert.Contains(t, messenger.sent[0], "not allowed")
	assert.Zero(t, store.mutations, "unauthorized commands must not touch the store")
}

func TestUnknownVerb(t *testing.T) {
	handler, _, messenger := newTestHandler()

	handler.HandleMessage(context.Background(), event("/discourse dance", "alice"))

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "Unknown command")
}

func TestStatusEmpty(t *testing.T) {
	handler, _, messenger := newTestHandler()

	handler.HandleMessage(context.Background(), event("/discourse status", "alice"))

	require.Len(t, messenger.sent, 1)
	assert.Equal(t, "> Notification rules for this room:", messenger.sent[0])
}

func TestWatchCategoryRoundTrip(t *testing.T) {
	handler, store, messenger := newTestHandler()
	ctx := context.Background()

	handler.HandleMessage(ctx, event("/discourse watch SomeCategory", "alice"))

	require.Len(t, store.rules["gopher/lobby"], 1)
	rule := store.rules["gopher/lobby"][0]
	require.NotNil(t, rule.CategoryID)
	assert.Equal(t, int64(9), *rule.CategoryID)
	assert.Equal(t, domain.FilterWatch, rule.Filter)

	handler.HandleMessage(ctx, event("/discourse status", "alice"))
	status := messenger.sent[len(messenger.sent)-1]
	lines := strings.Split(status, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "1. watch SomeCategory")

	handler.HandleMessage(ctx, event("/discourse remove 1", "alice"))
	handler.HandleMessage(ctx, event("/discourse status", "alice"))
	status = messenger.sent[len(messenger.sent)-1]
	assert.Equal(t, "> Notification rules for this room:", status)
}

func TestWatchUnknownTag(t *testing.T) {
	handler, store, messenger := newTestHandler()

	handler.HandleMessage(context.Background(), event("/discourse watch General tags:a,b", "alice"))

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "Unknown tags")
	assert.Contains(t, messenger.sent[0], "b")
	assert.NotContains(t, messenger.sent[0], "a,", "existing tags must not be reported missing")
	assert.Zero(t, store.mutations)
}

func TestMuteTagsOnlyCreatesWildcardRule(t *testing.T) {
	handler, store, _ := newTestHandler()

	handler.HandleMessage(context.Background(), event("/discourse mute tags:x", "alice"))

	require.Len(t, store.rules["gopher/lobby"], 1)
	rule := store.rules["gopher/lobby"][0]
	assert.Nil(t, rule.CategoryID, "no category text means wildcard")
	assert.Equal(t, domain.FilterMute, rule.Filter)
	assert.Equal(t, []string{"x"}, rule.Tags)
}

func TestFollowWithoutArguments(t *testing.T) {
	handler, store, messenger := newTestHandler()

	handler.HandleMessage(context.Background(), event("/discourse follow", "alice"))

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "Nothing to add")
	assert.Zero(t, store.mutations)
}

func TestUnknownCategory(t *testing.T) {
	handler, store, messenger := newTestHandler()

	handler.HandleMessage(context.Background(), event("/discourse watch Basketweaving", "alice"))

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], `Unknown category "Basketweaving"`)
	assert.Zero(t, store.mutations)
}

func TestRemoveOutOfRange(t *testing.T) {
	handler, store, messenger := newTestHandler()
	store.rules["gopher/lobby"] = []domain.Rule{{RoomName: "gopher/lobby", Filter: domain.FilterWatch}}

	handler.HandleMessage(context.Background(), event("/discourse remove 5", "alice"))

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "no rule")
	assert.Len(t, store.rules["gopher/lobby"], 1)
}

func TestRemoveWithoutIndex(t *testing.T) {
	handler, store, messenger := newTestHandler()
	store.rules["gopher/lobby"] = []domain.Rule{{RoomName: "gopher/lobby", Filter: domain.FilterWatch}}

	handler.HandleMessage(context.Background(), event("/discourse remove", "alice"))

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "no rule")
	assert.Len(t, store.rules["gopher/lobby"], 1)
}

func TestRemoveFirstRule(t *testing.T) {
	handler, store, _ := newTestHandler()
	five := int64(5)
	store.rules["gopher/lobby"] = []domain.Rule{
		{CategoryID: &five, RoomName: "gopher/lobby", Filter: domain.FilterWatch},
		{RoomName: "gopher/lobby", Filter: domain.FilterMute},
	}

	handler.HandleMessage(context.Background(), event("/discourse remove 1", "alice"))

	require.Len(t, store.rules["gopher/lobby"], 1)
	assert.Equal(t, domain.FilterMute, store.rules["gopher/lobby"][0].Filter)
}

func TestPanicIsContained(t *testing.T) {
	handler, store, messenger := newTestHandler()
	store.panicOn = "get"

	assert.NotPanics(t, func() {
		handler.HandleMessage(context.Background(), event("/discourse status", "alice"))
	})

	// The reactor keeps working for later messages
	store.panicOn = ""
	handler.HandleMessage(context.Background(), event("/discourse status", "alice"))
	assert.NotEmpty(t, messenger.sent)
}

func TestStatusReportsTags(t *testing.T) {
	handler, _, messenger := newTestHandler()
	ctx := context.Background()

	handler.HandleMessage(ctx, event("/discourse follow General tags:a", "alice"))

	require.NotEmpty(t, messenger.sent)
	status := messenger.sent[len(messenger.sent)-1]
	assert.Contains(t, status, fmt.Sprintf("1. %s General with tags: a", domain.FilterFollow))
}
