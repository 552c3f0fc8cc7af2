package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

type message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// hub fans alert messages out to every connected stream client.
type hub struct {
	fleet     *fleet
	clients   map[*websocket.Conn]*sync.Mutex
	clientsMu sync.RWMutex
	broadcast chan message
}

func newHub(f *fleet) *hub {
	return &hub{
		fleet:     f,
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		broadcast: make(chan message, 256),
	}
}

// serve runs for the lifetime of one stream connection.
func (h *hub) serve(conn *websocket.Conn) {
	writeMu := &sync.Mutex{}
	h.clientsMu.Lock()
	h.clients[conn] = writeMu
	h.clientsMu.Unlock()
	remote := conn.IP()
	log.Info().Str("remote", remote).Msg("stream client connected")

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, conn)
		h.clientsMu.Unlock()
		conn.Close()
		log.Info().Str("remote", remote).Msg("stream client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in message
		if err := json.Unmarshal(data, &in); err != nil {
			log.Warn().Err(err).Msg("bad client message")
			continue
		}

		var reply message
		switch in.Type {
		case "get_alerts":
			reply = message{Type: "current_alerts", Data: h.fleet.recent(10)}
		case "ping":
			reply = message{Type: "pong"}
		default:
			continue
		}
		if err := write(conn, writeMu, reply); err != nil {
			return
		}
	}
}

func write(conn *websocket.Conn, mu *sync.Mutex, msg message) error {
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *hub) run() {
	for msg := range h.broadcast {
		h.clientsMu.RLock()
		for conn, mu := range h.clients {
			if err := write(conn, mu, msg); err != nil {
				conn.Close()
			}
		}
		h.clientsMu.RUnlock()
	}
}

func (h *hub) clientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
