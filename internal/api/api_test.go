package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumbridge/chatbridge/internal/domain"
)

type fakeStore struct {
	integrations map[string]domain.Integration
	rules        map[string][]domain.Rule
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		integrations: make(map[string]domain.Integration),
		rules:        make(map[string][]domain.Rule),
	}
}

func (s *fakeStore) PutIntegration(integration domain.Integration) error {
	s.integrations[integration.RoomName] = integration
	return nil
}

func (s *fakeStore) GetIntegration(room string) (domain.Integration, bool, error) {
	integration, ok := s.integrations[room]
	return integration, ok, nil
}

func (s *fakeStore) DeleteIntegration(room string) error {
	delete(s.integrations, room)
	delete(s.rules, room)
	return nil
}

func (s *fakeStore) ListIntegrations() ([]domain.Integration, error) {
	out := make([]domain.Integration, 0, len(s.integrations))
	for _, integration := range s.integrations {
		out = append(out, integration)
	}
	return out, nil
}

func (s *fakeStore) ListRules() (map[string][]domain.Rule, error) {
	return s.rules, nil
}

type fakeBridge struct {
	enabled      bool
	running      bool
	starts       int
	stops        int
	subscribed   []string
	unsubscribed []string
}

// Start honors the enabled gate the way the real bridge does.
func (b *fakeBridge) Start() {
	b.starts++
	if b.enabled {
		b.running = true
	}
}
func (b *fakeBridge) Stop()                   { b.stops++; b.running = false }
func (b *fakeBridge) SetEnabled(enabled bool) { b.enabled = enabled }
func (b *fakeBridge) Running() bool           { return b.running }
func (b *fakeBridge) SubscribeRoom(name string) {
	b.subscribed = append(b.subscribed, name)
}
func (b *fakeBridge) UnsubscribeRoom(name string) {
	b.unsubscribed = append(b.unsubscribed, name)
}

type fakeMessenger struct {
	sent []string
	ok   bool
}

func (m *fakeMessenger) Send(_ context.Context, roomID, text string) bool {
	m.sent = append(m.sent, roomID+": "+text)
	return m.ok
}

func newTestAPI(t *testing.T, config Config) (*API, *fakeStore, *fakeBridge, *fakeMessenger) {
	t.Helper()
	store := newFakeStore()
	bridge := &fakeBridge{}
	messenger := &fakeMessenger{ok: true}
	return New(config, store, bridge, messenger), store, bridge, messenger
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	a, _, _, _ := newTestAPI(t, Config{})
	rec := doJSON(t, a.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCreateIntegrationSubscribesRoom(t *testing.T) {
	a, store, bridge, _ := newTestAPI(t, Config{})

	rec := doJSON(t, a.Handler(), http.MethodPost, "/integrations", map[string]string{
		"room":    "gopher/lobby",
		"room_id": "room-1",
		"webhook": "https://forum.example.com/hooks/abc",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	integration, found, err := store.GetIntegration("gopher/lobby")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "room-1", integration.RoomID)
	assert.Equal(t, "https://forum.example.com/hooks/abc", integration.WebhookURL)
	assert.Equal(t, []string{"gopher/lobby"}, bridge.subscribed)
}

func TestCreateIntegrationRequiresRoomAndID(t *testing.T) {
	a, _, bridge, _ := newTestAPI(t, Config{})

	rec := doJSON(t, a.Handler(), http.MethodPost, "/integrations", map[string]string{
		"room": "gopher/lobby",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, bridge.subscribed)
}

func TestDeleteIntegrationUnsubscribesRoom(t *testing.T) {
	a, store, bridge, _ := newTestAPI(t, Config{})
	require.NoError(t, store.PutIntegration(domain.Integration{RoomName: "gopher/lobby", RoomID: "room-1"}))

	rec := doJSON(t, a.Handler(), http.MethodDelete, "/integrations?room=gopher%2Flobby", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	_, found, err := store.GetIntegration("gopher/lobby")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, []string{"gopher/lobby"}, bridge.unsubscribed)
}

func TestDeleteIntegrationRequiresRoom(t *testing.T) {
	a, _, _, _ := newTestAPI(t, Config{})
	rec := doJSON(t, a.Handler(), http.MethodDelete, "/integrations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListIntegrationsIncludesRules(t *testing.T) {
	a, store, _, _ := newTestAPI(t, Config{})
	require.NoError(t, store.PutIntegration(domain.Integration{
		RoomName:   "gopher/lobby",
		RoomID:     "room-1",
		WebhookURL: "https://forum.example.com/hooks/abc",
	}))
	category := int64(5)
	store.rules["gopher/lobby"] = []domain.Rule{
		{CategoryID: &category, RoomName: "gopher/lobby", Filter: domain.FilterWatch},
	}

	rec := doJSON(t, a.Handler(), http.MethodGet, "/integrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []struct {
		Room    string        `json:"room"`
		RoomID  string        `json:"room_id"`
		Webhook string        `json:"webhook"`
		Rules   []domain.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "gopher/lobby", views[0].Room)
	assert.Equal(t, "room-1", views[0].RoomID)
	require.Len(t, views[0].Rules, 1)
	assert.Equal(t, domain.FilterWatch, views[0].Rules[0].Filter)
}

func TestListIntegrationsEmptyRulesArray(t *testing.T) {
	a, store, _, _ := newTestAPI(t, Config{})
	require.NoError(t, store.PutIntegration(domain.Integration{RoomName: "gopher/lobby", RoomID: "room-1"}))

	rec := doJSON(t, a.Handler(), http.MethodGet, "/integrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rules":[]`)
}

func TestTestNotification(t *testing.T) {
	a, store, _, messenger := newTestAPI(t, Config{})
	require.NoError(t, store.PutIntegration(domain.Integration{RoomName: "gopher/lobby", RoomID: "room-1"}))

	rec := doJSON(t, a.Handler(), http.MethodPost, "/integrations/test?room=gopher%2Flobby", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "room-1: ")
}

func TestTestNotificationUnknownRoom(t *testing.T) {
	a, _, _, messenger := newTestAPI(t, Config{})

	rec := doJSON(t, a.Handler(), http.MethodPost, "/integrations/test?room=missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, messenger.sent)
}

func TestTestNotificationDeliveryFailure(t *testing.T) {
	a, store, _, messenger := newTestAPI(t, Config{})
	messenger.ok = false
	require.NoError(t, store.PutIntegration(domain.Integration{RoomName: "gopher/lobby", RoomID: "room-1"}))

	rec := doJSON(t, a.Handler(), http.MethodPost, "/integrations/test?room=gopher%2Flobby", nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBotEnableRequiresToken(t *testing.T) {
	a, _, bridge, _ := newTestAPI(t, Config{TokenConfigured: false})

	rec := doJSON(t, a.Handler(), http.MethodPost, "/bot", map[string]bool{"enabled": true})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, bridge.starts)
}

func TestBotEnableRestartsBridge(t *testing.T) {
	a, _, bridge, _ := newTestAPI(t, Config{TokenConfigured: true})
	bridge.enabled = true
	bridge.running = true

	rec := doJSON(t, a.Handler(), http.MethodPost, "/bot", map[string]bool{"enabled": true})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, bridge.stops)
	assert.Equal(t, 1, bridge.starts)
	assert.True(t, bridge.Running())
}

func TestBotEnableFromDisabledBoot(t *testing.T) {
	a, _, bridge, _ := newTestAPI(t, Config{TokenConfigured: true})

	rec := doJSON(t, a.Handler(), http.MethodPost, "/bot", map[string]bool{"enabled": true})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bridge.enabled)
	assert.True(t, bridge.Running())
	assert.Contains(t, rec.Body.String(), `"running":true`)
}

func TestBotDisableStopsBridge(t *testing.T) {
	a, _, bridge, _ := newTestAPI(t, Config{TokenConfigured: true})
	bridge.enabled = true
	bridge.running = true

	rec := doJSON(t, a.Handler(), http.MethodPost, "/bot", map[string]bool{"enabled": false})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, bridge.stops)
	assert.Zero(t, bridge.starts)
	assert.False(t, bridge.enabled)
	assert.False(t, bridge.Running())
}

func TestBotStatus(t *testing.T) {
	a, _, bridge, _ := newTestAPI(t, Config{})
	bridge.running = true

	rec := doJSON(t, a.Handler(), http.MethodGet, "/bot", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status["running"])
}
