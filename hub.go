package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type streamMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func marshalStreamState(payload any) []byte {
	data, err := json.Marshal(streamMessage{Type: "state", Payload: payload})
	if err != nil {
		logError("marshalStreamState", err)
		return []byte(`{"type":"state","payload":null}`)
	}
	return data
}

// StateUpdate carries one rendered frame per seated player plus the public
// frame for unidentified clients.
type StateUpdate struct {
	PerPlayer map[string][]byte
	Public    []byte
}

func (u StateUpdate) frameFor(playerID string) []byte {
	if frame, ok := u.PerPlayer[playerID]; ok {
		return frame
	}
	return u.Public
}

// Client is one websocket connection, optionally tied to a seated player.
type Client struct {
	conn     *websocket.Conn
	playerID string
	writeMu  sync.Mutex // serialize writes to the socket (required by gorilla/websocket)
}

func (c *Client) send(message []byte) error {
	if message == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Hub fans fresh state frames out to every connected stream client. Each
// client receives the view matching its player id.
type Hub struct {
	clients    map[*websocket.Conn]*Client
	broadcast  chan StateUpdate
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	last       StateUpdate
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan StateUpdate),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

var hub = newHub()

// BroadcastState hands a rendered update to the hub loop.
func (h *Hub) BroadcastState(update StateUpdate) {
	select {
	case h.broadcast <- update:
	case <-h.done:
	}
}

// stop signals the hub goroutine to exit and waits for it to finish.
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

func (h *Hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			last := h.last
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Stream client connected (player %q). Total: %d", client.playerID, total)
			// Catch the new client up instead of waiting for the next
			// mutation.
			if err := client.send(last.frameFor(client.playerID)); err != nil {
				log.Printf("WebSocket write error on connect: %v", err)
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Stream client disconnected. Total: %d", total)

		case update := <-h.broadcast:
			h.mu.Lock()
			h.last = update
			var dead []*websocket.Conn
			for conn, client := range h.clients {
				frame := update.frameFor(client.playerID)
				LogWSMessage("OUT", client.playerID, string(frame))
				if err := client.send(frame); err != nil {
					log.Printf("WebSocket write error: %v", err)
					dead = append(dead, conn)
				}
			}
			for _, conn := range dead {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
		}
	}
}

// handleGameStream upgrades GET /game/stream to a websocket and registers
// the client under the player id in the query string, if any. The stream
// is push-only; inbound messages are discarded.
func handleGameStream(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	DebugLog("handleGameStream", "Client connected for player %q", playerID)

	client := &Client{conn: conn, playerID: playerID}
	hub.register <- client

	go func() {
		defer func() {
			hub.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
