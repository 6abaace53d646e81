package main

import (
	"embed"
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

//go:embed templates/*
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// SpectatorUpdate is one line of the public game feed pushed to browsers.
type SpectatorUpdate struct {
	Kind        string `json:"kind"` // event | message
	Round       int    `json:"round"`
	Phase       Phase  `json:"phase"`
	Type        string `json:"type,omitempty"`
	Sender      string `json:"sender,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Client represents one connected spectator
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

// Hub broadcasts the public game feed to all connected spectators.
type Hub struct {
	clients    map[*websocket.Conn]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup

	// feed replays the whole game so far to late joiners
	feedMu sync.Mutex
	feed   [][]byte
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// stop signals the hub goroutine to exit and waits for it to finish
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
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Spectator connected. Total: %d", total)

			// catch the new spectator up on the game so far
			h.feedMu.Lock()
			backlog := make([][]byte, len(h.feed))
			copy(backlog, h.feed)
			h.feedMu.Unlock()
			for _, message := range backlog {
				client.writeMu.Lock()
				err := client.conn.WriteMessage(websocket.TextMessage, message)
				client.writeMu.Unlock()
				if err != nil {
					break
				}
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Spectator disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.feedMu.Lock()
			h.feed = append(h.feed, message)
			h.feedMu.Unlock()

			h.mu.RLock()
			for conn, client := range h.clients {
				// Serialize writes to each connection
				client.writeMu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, message)
				client.writeMu.Unlock()

				if err != nil {
					log.Printf("WebSocket write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues one update for broadcast.
func (h *Hub) Publish(u SpectatorUpdate) {
	data, err := json.Marshal(u)
	if err != nil {
		logError("hub: marshal update", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// Attach subscribes the hub to the controller's public output. Private
// messages and events never reach spectators.
func (h *Hub) Attach(gc *GameController) {
	gc.RegisterCallback(CallbackGameEvent, func(payload any) {
		e := payload.(GameEvent)
		if !e.Public {
			return
		}
		h.Publish(SpectatorUpdate{
			Kind: "event", Round: e.Round, Phase: e.Phase,
			Type: e.Type, Description: e.Description,
		})
	})
	gc.RegisterCallback(CallbackMessage, func(payload any) {
		m := payload.(Message)
		if !m.Public {
			return
		}
		h.Publish(SpectatorUpdate{
			Kind: "message", Round: m.Round, Phase: m.Phase,
			Sender: m.SenderName, Content: m.Content,
		})
	})
}

func (h *Hub) handleWatch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if err := templates.ExecuteTemplate(w, "watch.html", nil); err != nil {
		logError("hub: render watch page", err)
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{conn: conn}
	h.register <- client

	// spectators send nothing; the read loop only detects disconnects
	go func() {
		defer func() {
			h.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// startSpectatorServer serves the watch page and websocket feed on addr.
func startSpectatorServer(h *Hub, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleWatch)
	mux.HandleFunc("/ws", h.handleWebSocket)

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("Spectator page on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logError("spectator server", err)
		}
	}()
	return server
}
