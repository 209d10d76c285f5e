package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Tipos de evento emitidos a los clientes conectados.
const (
	EventAdmission   = "admission"
	EventRejection   = "rejection"
	EventOutcome     = "outcome"
	EventStatsUpdate = "stats_update"
)

// Event es el sobre JSON que viaja por el websocket.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub mantiene los clientes websocket conectados y les difunde eventos.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	mu         sync.Mutex
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// GlobalHub es el hub compartido del proceso. Es nil hasta Init: los
// helpers Notify* lo chequean, así el resto del código puede emitir sin
// importarle si hay websocket habilitado.
var GlobalHub *Hub

// Init crea y arranca el hub global.
func Init() *Hub {
	GlobalHub = NewHub()
	go GlobalHub.Run()
	return GlobalHub
}

// NewHub crea un hub sin arrancar.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
	}
}

// Run procesa registros, bajas y difusiones. Corre en su propia goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Cliente conectado (%d activos)", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Cliente lento: se desconecta en vez de frenar al resto.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast difunde un evento a todos los clientes.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	evt := Event{Type: eventType, Timestamp: time.Now(), Data: data}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[WebSocket] Error serializando evento %s: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		// Buffer lleno: descartar antes que bloquear el hot path.
	}
}

// ServeWS maneja el upgrade HTTP y registra el cliente.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Error en upgrade: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 32)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// --- Helpers nil-guarded sobre el hub global ---

// NotifyAdmission emite la admisión de una llamada.
func NotifyAdmission(callID string, linkID int64, clientIdentifier string, campaignID int64) {
	if GlobalHub == nil {
		return
	}
	GlobalHub.Broadcast(EventAdmission, map[string]interface{}{
		"call_id":     callID,
		"link_id":     linkID,
		"client":      clientIdentifier,
		"campaign_id": campaignID,
	})
}

// NotifyRejection emite el rechazo de una llamada con su razón tipada.
func NotifyRejection(callID, reason string) {
	if GlobalHub == nil {
		return
	}
	GlobalHub.Broadcast(EventRejection, map[string]interface{}{
		"call_id": callID,
		"reason":  reason,
	})
}

// NotifyOutcome emite el resultado final de una llamada admitida.
func NotifyOutcome(callID, outcome string, linkID int64, billable bool) {
	if GlobalHub == nil {
		return
	}
	GlobalHub.Broadcast(EventOutcome, map[string]interface{}{
		"call_id":  callID,
		"outcome":  outcome,
		"link_id":  linkID,
		"billable": billable,
	})
}

// NotifyStats emite una instantánea de concurrencia por link.
func NotifyStats(counts map[int64]int, pending int) {
	if GlobalHub == nil {
		return
	}
	GlobalHub.Broadcast(EventStatsUpdate, map[string]interface{}{
		"concurrency": counts,
		"pending":     pending,
	})
}
