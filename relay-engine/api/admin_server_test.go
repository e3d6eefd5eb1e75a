package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metricsapi "github.com/VanDung-dev/HieraChain-Relay/api"
	"github.com/VanDung-dev/HieraChain-Relay/arrow"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/network"
)

type fakeRelay struct {
	mu         sync.Mutex
	running    bool
	peers      []network.PeerLink
	inbound    []string
	history    []network.HistoryEntry
	users      map[string]network.User
	connectErr error
	connected  []string
	broadcasts []map[string]any
}

func (f *fakeRelay) IsRunning() bool { return f.running }

func (f *fakeRelay) Status() network.Status {
	return network.Status{
		Address:       "tcp://127.0.0.1:4445",
		IsRunning:     f.running,
		OutboundPeers: len(f.peers),
		InboundPeers:  len(f.inbound),
		Users:         len(f.users),
	}
}

func (f *fakeRelay) Peers() []network.PeerLink            { return f.peers }
func (f *fakeRelay) InboundPeers() []string               { return f.inbound }
func (f *fakeRelay) PeerHistory() []network.HistoryEntry  { return f.history }
func (f *fakeRelay) UsersOnline() map[string]network.User { return f.users }

func (f *fakeRelay) Connect(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = append(f.connected, address)
	return nil
}

func (f *fakeRelay) SendNetworkMessage(data, config map[string]any) (string, error) {
	if len(data) == 0 && len(config) == 0 {
		return "", network.ErrEmptyMessage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, data)
	return fmt.Sprintf("msg-%d", len(f.broadcasts)), nil
}

func newFakeRelay() *fakeRelay {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeRelay{
		running: true,
		peers: []network.PeerLink{
			{Address: "tcp://127.0.0.1:4446", LinkID: "l1", ConnectedAt: base},
		},
		inbound: []string{"tcp://127.0.0.1:4447"},
		history: []network.HistoryEntry{
			{Address: "tcp://127.0.0.1:4448", ConnectedAt: base, DisconnectedAt: base.Add(time.Minute)},
		},
		users: map[string]network.User{
			"alice": {UserName: "alice", SocketID: "s1"},
		},
	}
}

func serve(t *testing.T, s *AdminServer, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAdminHealth(t *testing.T) {
	relay := newFakeRelay()
	s := NewAdminServer(relay, nil, nil, nil)

	rec := serve(t, s, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeJSON(t, rec)["status"])

	relay.running = false
	rec = serve(t, s, "GET", "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "stopped", decodeJSON(t, rec)["status"])
}

func TestAdminStatusPeersUsers(t *testing.T) {
	s := NewAdminServer(newFakeRelay(), nil, nil, nil)

	rec := serve(t, s, "GET", "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeJSON(t, rec)
	assert.Equal(t, "tcp://127.0.0.1:4445", status["address"])
	assert.EqualValues(t, 1, status["outbound_peers"])

	rec = serve(t, s, "GET", "/peers", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	peers := decodeJSON(t, rec)
	assert.Len(t, peers["outbound"], 1)
	assert.Equal(t, []any{"tcp://127.0.0.1:4447"}, peers["inbound"])

	rec = serve(t, s, "GET", "/users", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeJSON(t, rec)
	assert.Contains(t, users, "alice")
}

func TestAdminHistoryArrow(t *testing.T) {
	s := NewAdminServer(newFakeRelay(), nil, nil, nil)

	rec := serve(t, s, "GET", "/history", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ArrowStreamType, rec.Header().Get("Content-Type"))

	rows, err := arrow.NewPeerTableCodec().Read(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, arrow.StateActive, rows[0].State)
	assert.Equal(t, "tcp://127.0.0.1:4446", rows[0].Address)
	assert.Equal(t, arrow.StatePast, rows[1].State)
	assert.Equal(t, "tcp://127.0.0.1:4448", rows[1].Address)
}

func TestAdminMetrics(t *testing.T) {
	m := metricsapi.NewMetrics("relay")
	m.MessagesBroadcast.Inc()
	s := NewAdminServer(newFakeRelay(), m, nil, nil)

	rec := serve(t, s, "GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_")

	noMetrics := NewAdminServer(newFakeRelay(), nil, nil, nil)
	rec = serve(t, noMetrics, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminConnect(t *testing.T) {
	relay := newFakeRelay()
	s := NewAdminServer(relay, nil, nil, nil)

	rec := serve(t, s, "POST", "/connect", `{"address":"tcp://127.0.0.1:5000"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tcp://127.0.0.1:5000"}, relay.connected)

	rec = serve(t, s, "POST", "/connect", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	relay.connectErr = fmt.Errorf("peer %s: %w", "x", network.ErrAlreadyExists)
	rec = serve(t, s, "POST", "/connect", `{"address":"tcp://127.0.0.1:5000"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeJSON(t, rec)
	assert.Contains(t, body["error"], "already exists")
	assert.EqualValues(t, http.StatusConflict, body["status"])
}

func TestAdminBroadcast(t *testing.T) {
	relay := newFakeRelay()
	s := NewAdminServer(relay, nil, nil, nil)

	rec := serve(t, s, "POST", "/broadcast", `{"data":{"n":1}}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "msg-1", decodeJSON(t, rec)["message_id"])

	rec = serve(t, s, "POST", "/broadcast", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminWriteRoutesRequireToken(t *testing.T) {
	relay := newFakeRelay()
	auth := NewAuthenticator(AuthConfig{Enabled: true, Token: "secret"})
	s := NewAdminServer(relay, nil, auth, nil)

	rec := serve(t, s, "POST", "/connect", `{"address":"tcp://127.0.0.1:5000"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, s, "POST", "/connect", `{"address":"tcp://127.0.0.1:5000"}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, s, "POST", "/connect", `{"address":"tcp://127.0.0.1:5000"}`, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Reads stay open.
	rec = serve(t, s, "GET", "/status", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminCORS(t *testing.T) {
	s := NewAdminServer(newFakeRelay(), nil, nil, nil)

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{network.ErrInvalidArgument, http.StatusBadRequest},
		{network.ErrSelfConnect, http.StatusBadRequest},
		{network.ErrAlreadyExists, http.StatusConflict},
		{network.ErrNodeNotRunning, http.StatusServiceUnavailable},
		{fmt.Errorf("dial: %w", network.ErrTransportFailure), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAdminStartStop(t *testing.T) {
	s := NewAdminServer(newFakeRelay(), nil, nil, nil)
	assert.Nil(t, s.Addr())

	require.NoError(t, s.StartAsync("127.0.0.1:0"))
	assert.Error(t, s.StartAsync("127.0.0.1:0"))

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
