package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
)

// startHub serves a hub at /ws on a loopback listener.
func startHub(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()

	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		NewClient(h, conn).Run()
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)

	t.Cleanup(func() {
		cancel()
		app.Shutdown()
	})
	return h, "ws://" + ln.Addr().String() + "/ws", cancel
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	var conn *gws.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err = gws.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Cleanup(func() { conn.Close() })
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", url, err)
	return nil
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d, at %d", n, h.ClientCount())
}

func TestBroadcastJSON(t *testing.T) {
	h, url, _ := startHub(t)
	conn := dial(t, url)
	waitClients(t, h, 1)

	if err := h.BroadcastJSON(map[string]string{"type": "motion_event"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != gws.TextMessage {
		t.Errorf("expected a text frame, got %d", kind)
	}
	var msg map[string]string
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg["type"] != "motion_event" {
		t.Errorf("payload = %v", msg)
	}
}

func TestBroadcastBinaryFanout(t *testing.T) {
	h, url, _ := startHub(t)
	first := dial(t, url)
	second := dial(t, url)
	waitClients(t, h, 2)

	frame := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	h.BroadcastBinary(frame)

	for i, conn := range []*gws.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if kind != gws.BinaryMessage {
			t.Errorf("client %d: expected a binary frame, got %d", i, kind)
		}
		if !bytes.Equal(data, frame) {
			t.Errorf("client %d: frame bytes mangled", i)
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	h, url, _ := startHub(t)
	conn := dial(t, url)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)
}

func TestShutdownDisconnectsClients(t *testing.T) {
	h, url, stop := startHub(t)
	conn := dial(t, url)
	waitClients(t, h, 1)

	stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the server to close the stream")
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("connection not closed on hub shutdown")
	}
}

func TestIsRunning(t *testing.T) {
	h := New("idle")
	if h.IsRunning() {
		t.Error("hub should be idle before Run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !h.IsRunning() {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.IsRunning() {
		t.Fatal("hub never reported running")
	}

	cancel()
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && h.IsRunning() {
		time.Sleep(5 * time.Millisecond)
	}
	if h.IsRunning() {
		t.Error("hub still running after cancel")
	}
}
