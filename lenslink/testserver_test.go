package lenslink

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeCloud is an in-process stand-in for the cloud peer. It records every
// JSON message received from the client and, unless silenced, answers each
// CONNECTION_INIT with a CONNECTION_ACK.
type fakeCloud struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	lock        sync.Mutex
	conns       []*websocket.Conn
	ackOnInit   bool
	ackSettings []Setting

	received chan map[string]interface{}
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	cloud := &fakeCloud{
		ackOnInit: true,
		received:  make(chan map[string]interface{}, 64),
	}
	cloud.server = httptest.NewServer(http.HandlerFunc(cloud.handle))
	t.Cleanup(cloud.close)
	return cloud
}

func (cloud *fakeCloud) url() string {
	return "ws" + strings.TrimPrefix(cloud.server.URL, "http")
}

func (cloud *fakeCloud) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := cloud.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cloud.lock.Lock()
	cloud.conns = append(cloud.conns, conn)
	cloud.lock.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var message map[string]interface{}
		if err := json.Unmarshal(data, &message); err != nil {
			continue
		}

		select {
		case cloud.received <- message:
		default:
		}

		cloud.lock.Lock()
		ack := cloud.ackOnInit
		settings := cloud.ackSettings
		cloud.lock.Unlock()

		if ack && message["type"] == string(MessageTypeConnectionInit) {
			response := map[string]interface{}{"type": string(MessageTypeConnectionAck)}
			if settings != nil {
				response["settings"] = settings
			}
			payload, _ := json.Marshal(response)
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}
	}
}

func (cloud *fakeCloud) setAckSettings(settings []Setting) {
	cloud.lock.Lock()
	cloud.ackSettings = settings
	cloud.lock.Unlock()
}

func (cloud *fakeCloud) silence() {
	cloud.lock.Lock()
	cloud.ackOnInit = false
	cloud.lock.Unlock()
}

// sendToClient writes a text frame to the most recent client connection.
func (cloud *fakeCloud) sendToClient(t *testing.T, message interface{}) {
	t.Helper()
	payload, err := json.Marshal(message)
	if err != nil {
		t.Fatalf("marshal server message: %v", err)
	}

	cloud.lock.Lock()
	defer cloud.lock.Unlock()
	if len(cloud.conns) == 0 {
		t.Fatalf("no client connection to write to")
	}
	conn := cloud.conns[len(cloud.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write server message: %v", err)
	}
}

// dropConnections closes every client connection without shutting the
// server down, simulating an unexpected channel loss.
func (cloud *fakeCloud) dropConnections() {
	cloud.lock.Lock()
	conns := cloud.conns
	cloud.conns = nil
	cloud.lock.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (cloud *fakeCloud) close() {
	cloud.dropConnections()
	cloud.server.Close()
}

// waitForMessage returns the next received client message of the given
// type, skipping others.
func (cloud *fakeCloud) waitForMessage(t *testing.T, messageType MessageType) map[string]interface{} {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case message := <-cloud.received:
			if message["type"] == string(messageType) {
				return message
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", messageType)
			return nil
		}
	}
}

// expectNoMessage fails if a client message of the given type arrives
// within the window.
func (cloud *fakeCloud) expectNoMessage(t *testing.T, messageType MessageType, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case message := <-cloud.received:
			if message["type"] == string(messageType) {
				t.Fatalf("unexpected %s message: %+v", messageType, message)
			}
		case <-deadline:
			return
		}
	}
}
