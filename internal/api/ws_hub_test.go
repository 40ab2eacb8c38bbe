package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
)

func dialHub(t *testing.T, h *WSHub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		got := len(h.clients)
		h.mu.RUnlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d ws clients", n)
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestWSHub_StreamsCommittedEvents(t *testing.T) {
	h := NewWSHub()
	go h.Run()
	defer h.Stop()

	idA := common.HexToHash("0xaa")
	idB := common.HexToHash("0xbb")

	all := dialHub(t, h, "")
	onlyB := dialHub(t, h, "?exchange_id="+idB.Hex())
	waitForClients(t, h, 2)

	listener := h.Listener()
	listener([]chain.Log{
		{Topic: "token.transfer", Data: "ignored"},
		{Topic: "exchange.event", Data: &model.Event{ID: "1", Type: model.EventSwapped, ExchangeID: idA}},
		{Topic: "exchange.event", Data: &model.Event{ID: "2", Type: model.EventRateChanged, ExchangeID: idB}},
	})

	if msg := readMessage(t, all); msg.Event.ID != "1" || msg.Type != string(model.EventSwapped) {
		t.Errorf("expected event 1 first, got %+v", msg)
	}
	if msg := readMessage(t, all); msg.Event.ID != "2" {
		t.Errorf("expected event 2, got %+v", msg)
	}
	if msg := readMessage(t, onlyB); msg.Event.ID != "2" || msg.Event.ExchangeID != idB {
		t.Errorf("filtered client expected only event 2, got %+v", msg)
	}
}

func TestWSHub_UnregistersOnDisconnect(t *testing.T) {
	h := NewWSHub()
	go h.Run()
	defer h.Stop()

	conn := dialHub(t, h, "")
	waitForClients(t, h, 1)
	conn.Close()
	waitForClients(t, h, 0)
}
