package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"token-sale/sale-backend/internal/sale"
)

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(zap.NewNop())
	router := gin.New()
	hub.RegisterRoutes(router.Group("/api/v1"))
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, saleID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/sales/" + saleID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func testEvent(saleID uuid.UUID, kind sale.EventKind) sale.Event {
	return sale.Event{
		ID:         uuid.New(),
		SaleID:     saleID,
		Kind:       kind,
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:    json.RawMessage(`{"investor":"alice","sale_amount":"10"}`),
	}
}

func TestHubDeliversToSaleSubscribers(t *testing.T) {
	hub, srv := newHubServer(t)
	watched, other := uuid.New(), uuid.New()

	conn := dial(t, srv, watched.String())
	status := readMessage(t, conn)
	assert.Equal(t, MessageTypeStatus, status.Type)
	assert.Equal(t, watched, status.SaleID)

	require.Eventually(t, func() bool { return hub.Subscribers(watched) == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := testEvent(watched, sale.EventClaimed)
	require.NoError(t, hub.Publish(context.Background(), []sale.Event{
		testEvent(other, sale.EventPurchased),
		ev,
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, ev.ID, msg.EventID)
	assert.Equal(t, sale.EventClaimed, msg.Kind)
	assert.JSONEq(t, string(ev.Payload), string(msg.Payload))
}

func TestHubUnregistersClosedConnections(t *testing.T) {
	hub, srv := newHubServer(t)
	saleID := uuid.New()

	conn := dial(t, srv, saleID.String())
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.Subscribers(saleID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers(saleID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsInvalidSaleID(t *testing.T) {
	_, srv := newHubServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/ws/sales/not-a-uuid/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
