package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"jkbox/internal/games"
	"jkbox/internal/models"
)

// --- Module ---

type MockModule struct {
	mock.Mock
}

func (m *MockModule) Initialize(ctx context.Context, setup games.Setup, host games.Host) (json.RawMessage, error) {
	args := m.Called(ctx, setup, host)
	state, _ := args.Get(0).(json.RawMessage)
	return state, args.Error(1)
}

func (m *MockModule) HandleAction(ctx context.Context, playerID string, action json.RawMessage, state json.RawMessage) (json.RawMessage, error) {
	args := m.Called(ctx, playerID, action, state)
	next, _ := args.Get(0).(json.RawMessage)
	return next, args.Error(1)
}

func (m *MockModule) Cleanup() {
	m.Called()
}

// --- Broadcaster ---

type sentMessage struct {
	connID string
	msg    models.OutboundMessage
}

type recordingHub struct {
	mu   sync.Mutex
	subs map[string]string
	sent []sentMessage
}

func newRecordingHub() *recordingHub {
	return &recordingHub{subs: make(map[string]string)}
}

func (h *recordingHub) Subscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[connID] = roomID
}

func (h *recordingHub) Unsubscribe(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, connID)
}

func (h *recordingHub) SendTo(connID string, msg models.OutboundMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sentMessage{connID: connID, msg: msg})
}

func (h *recordingHub) BroadcastToRoom(roomID string, msg models.OutboundMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID, r := range h.subs {
		if r == roomID {
			h.sent = append(h.sent, sentMessage{connID: connID, msg: msg})
		}
	}
}

func (h *recordingHub) subscribed(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID, ok := h.subs[connID]
	return roomID, ok
}

func (h *recordingHub) messages(connID, msgType string) []models.OutboundMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.OutboundMessage
	for _, s := range h.sent {
		if s.connID == connID && s.msg.Type == msgType {
			out = append(out, s.msg)
		}
	}
	return out
}

func (h *recordingHub) last(connID, msgType string) (models.OutboundMessage, bool) {
	msgs := h.messages(connID, msgType)
	if len(msgs) == 0 {
		return models.OutboundMessage{}, false
	}
	return msgs[len(msgs)-1], true
}

func (h *recordingHub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = nil
}

// --- scripted module ---

// scriptedModule counts "move" actions and completes on "finish", giving
// the finishing player three points.
type scriptedModule struct {
	mu      sync.Mutex
	host    games.Host
	cleaned int
}

type scriptedState struct {
	Moves   int      `json:"moves"`
	Players []string `json:"players"`
}

type scriptedAction struct {
	Kind string `json:"kind"`
}

func (m *scriptedModule) Initialize(_ context.Context, setup games.Setup, host games.Host) (json.RawMessage, error) {
	m.mu.Lock()
	m.host = host
	m.mu.Unlock()
	st := scriptedState{}
	for _, p := range setup.Players {
		st.Players = append(st.Players, p.ID)
	}
	return json.Marshal(st)
}

func (m *scriptedModule) HandleAction(_ context.Context, playerID string, action json.RawMessage, state json.RawMessage) (json.RawMessage, error) {
	var a scriptedAction
	if err := json.Unmarshal(action, &a); err != nil {
		return nil, err
	}
	var st scriptedState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, err
	}
	switch a.Kind {
	case "move":
		st.Moves++
	case "finish":
		m.mu.Lock()
		host := m.host
		m.mu.Unlock()
		host.Complete(models.GameResults{
			Winners: []string{playerID},
			Scores:  map[string]int{playerID: 3},
		})
	}
	return json.Marshal(st)
}

func (m *scriptedModule) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned++
}

func (m *scriptedModule) cleanups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleaned
}
