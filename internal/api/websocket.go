package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"condoscan/internal/eventbus"
	"condoscan/internal/models"
)

// --- WebSocket Hub ---

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.Mutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

var hub = &Hub{
	broadcast:  make(chan []byte),
	register:   make(chan *Client),
	unregister: make(chan *Client),
	clients:    make(map[*Client]bool),
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	hub.register <- client

	go func() {
		defer func() {
			hub.unregister <- client
			conn.Close()
		}()
		for {
			message, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			w.Close()
		}
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// handleTaskWebSocket streams one task's snapshot every 2 seconds until the
// client disconnects or the task leaves memory.
func (s *Server) handleTaskWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Task WebSocket upgrade error:", err)
		return
	}
	defer conn.Close()

	taskID := r.URL.Query().Get("task_id")
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		task, err := s.orchestrator.TaskSnapshot(r.Context(), taskID)
		var payload []byte
		if err != nil {
			payload = []byte(`{"error":"task not found"}`)
		} else {
			payload, _ = json.Marshal(task)
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
		<-ticker.C
	}
}

type BroadcastMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// PumpBusEvents forwards bus events to every websocket client. Call once
// from main after the bus exists.
func PumpBusEvents(bus *eventbus.Bus) {
	ch := make(chan eventbus.Event, 256)
	bus.Subscribe(eventbus.TypeTaskProgress, ch)
	bus.Subscribe(eventbus.TypePriceChanged, ch)
	bus.Subscribe(eventbus.TypeListingIngested, ch)
	go func() {
		for evt := range ch {
			msg := BroadcastMessage{Type: evt.Type, Payload: map[string]interface{}{
				"task_id": evt.TaskID,
				"data":    evt.Data,
				"ts":      evt.Timestamp.UTC().Format(time.RFC3339),
			}}
			data, _ := json.Marshal(msg)
			hub.broadcast <- data
		}
	}()
}

// BroadcastTaskStatus pushes a task status change to every client.
func BroadcastTaskStatus(task models.ScrapeTask) {
	msg := BroadcastMessage{Type: "task_status", Payload: map[string]interface{}{
		"task_id": task.TaskID,
		"status":  task.Status,
	}}
	data, _ := json.Marshal(msg)
	hub.broadcast <- data
}

func init() {
	go hub.run()
}
