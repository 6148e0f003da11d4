package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jkbox/internal/games"
	"jkbox/internal/games/buzzer"
	"jkbox/internal/models"
	"jkbox/internal/repository"
	"jkbox/internal/service"
	"jkbox/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Session: config.SessionConfig{Secret: "test-secret", TokenTTL: time.Hour},
		Room: config.RoomConfig{
			MaxPlayers:       12,
			CodeLength:       4,
			CountdownSeconds: 5,
			AdminSuffix:      "~",
		},
	}
}

func setupRouter(t *testing.T, publicURL string) (*gin.Engine, *service.Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := games.NewRegistry()
	registry.Register(buzzer.Info, buzzer.New)
	services := service.NewServices(repository.NewMemoryRepositories(), registry, testConfig())
	t.Cleanup(services.SessionService.Close)

	r := gin.New()
	SetupRoutes(context.Background(), r, services, nil, publicURL)
	return r, services
}

func doRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t, "")

	w := doRequest(r, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestNoRoute(t *testing.T) {
	r, _ := setupRouter(t, "")

	w := doRequest(r, http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListGames(t *testing.T) {
	r, _ := setupRouter(t, "")

	w := doRequest(r, http.MethodGet, "/api/games")
	require.Equal(t, http.StatusOK, w.Code)

	var list []games.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, buzzer.ID, list[0].ID)
}

func TestCreateAndGetRoom(t *testing.T) {
	r, _ := setupRouter(t, "")

	w := doRequest(r, http.MethodPost, "/api/rooms")
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.RoomID, 4)
	assert.Equal(t, models.PhaseTitle, created.Phase())

	w = doRequest(r, http.MethodGet, "/api/rooms/"+strings.ToLower(created.RoomID))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.RoomID, got.RoomID)

	w = doRequest(r, http.MethodGet, "/api/rooms/1111")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinQR(t *testing.T) {
	r, services := setupRouter(t, "http://party.lan:3000/")
	room, err := services.RoomManager.CreateRoom()
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/api/rooms/"+room.RoomID+"/qr.png")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	_, err = png.Decode(bytes.NewReader(w.Body.Bytes()))
	assert.NoError(t, err)

	w = doRequest(r, http.MethodGet, "/api/rooms/1111/qr.png")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips broadcasts until a message of the given type arrives and
// decodes its payload into v.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.NotEqual(t, models.MsgError, msg.Type, "server error while waiting for %s: %s", msgType, msg.Payload)
		if msg.Type == msgType {
			require.NoError(t, json.Unmarshal(msg.Payload, v))
			return
		}
	}
}

func TestWebSocketJoinFlow(t *testing.T) {
	r, services := setupRouter(t, "")
	room, err := services.RoomManager.CreateRoom()
	require.NoError(t, err)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	conn := dialWS(t, wsURL(srv))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    models.MsgJoin,
		"payload": models.JoinPayload{RoomID: room.RoomID, Nickname: "Ann~"},
	}))

	var joined models.JoinSuccessPayload
	readUntil(t, conn, models.MsgJoinSuccess, &joined)
	assert.Equal(t, "Ann", joined.Player.Nickname)
	assert.True(t, joined.Player.IsAdmin)
	assert.NotEmpty(t, joined.Player.SessionToken)
	assert.Equal(t, room.RoomID, joined.RoomState.RoomID)

	assert.Equal(t, models.PhaseLobby, services.RoomManager.GetRoom(room.RoomID).Phase())
}

func TestWebSocketResumeWithConnectionID(t *testing.T) {
	r, services := setupRouter(t, "")
	room, err := services.RoomManager.CreateRoom()
	require.NoError(t, err)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	first := dialWS(t, wsURL(srv))
	var hello models.ConnectionAckPayload
	readUntil(t, first, models.MsgConnectionAck, &hello)
	require.NotEmpty(t, hello.ConnectionID)
	assert.False(t, hello.Resumed)

	require.NoError(t, first.WriteJSON(map[string]any{
		"type":    models.MsgJoin,
		"payload": models.JoinPayload{RoomID: room.RoomID, Nickname: "Ann"},
	}))
	var joined models.JoinSuccessPayload
	readUntil(t, first, models.MsgJoinSuccess, &joined)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		p, ok := services.RoomManager.GetRoom(room.RoomID).Player(joined.Player.ID)
		return ok && !p.IsConnected
	}, 2*time.Second, 10*time.Millisecond)

	second := dialWS(t, wsURL(srv)+"?cid="+hello.ConnectionID)
	var again models.ConnectionAckPayload
	readUntil(t, second, models.MsgConnectionAck, &again)
	assert.Equal(t, models.ConnectionAckPayload{ConnectionID: hello.ConnectionID, Resumed: true}, again)

	var restored models.JoinSuccessPayload
	readUntil(t, second, models.MsgSessionRestored, &restored)
	assert.Equal(t, joined.Player.ID, restored.Player.ID)

	p, ok := services.RoomManager.GetRoom(room.RoomID).Player(joined.Player.ID)
	require.True(t, ok)
	assert.True(t, p.IsConnected)

	// an id nobody holds starts a fresh connection
	third := dialWS(t, wsURL(srv)+"?cid=bogus")
	var fresh models.ConnectionAckPayload
	readUntil(t, third, models.MsgConnectionAck, &fresh)
	assert.NotEqual(t, "bogus", fresh.ConnectionID)
	assert.False(t, fresh.Resumed)
}
