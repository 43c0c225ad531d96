package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/stemsplit/api/internal/model"
)

// Client represents a WebSocket subscriber. Each connection subscribes to
// exactly one job for its lifetime.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	// done is closed by the hub when the client is evicted for falling
	// behind. Send stays open: only Unregister closes it, so senders that
	// guard on done never hit a closed channel.
	done chan struct{}
}

// Hub maintains the per-job rooms of live connections. It holds no durable
// state: the job store stays authoritative, the hub is only a delivery
// fabric.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Join requests carrying the snapshot fetch
	join chan *joinRequest

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

type joinRequest struct {
	client *Client
	fetch  func() *model.JobSnapshot
	joined chan struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan *joinRequest),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for job %s", client.JobID)

		case req := <-h.join:
			h.mu.Lock()
			if h.clients[req.client.JobID] == nil {
				h.clients[req.client.JobID] = make(map[*Client]bool)
			}
			h.clients[req.client.JobID][req.client] = true
			h.mu.Unlock()
			// The fetch runs here, between the room add and any later
			// broadcast, so the snapshot is always the client's first frame
			// and no delta can slip in ahead of it.
			if snap := req.fetch(); snap != nil {
				frame, err := json.Marshal(model.WSSnapshotMessage{
					Type:     model.WSMessageTypeSnapshot,
					Snapshot: snap,
				})
				if err == nil {
					// Send is freshly allocated and buffered, this cannot block.
					req.client.Send <- frame
				}
			}
			close(req.joined)
			log.Printf("Client registered for job %s", req.client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from job %s", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						// Evict without closing Send: the connection
						// handler may still push to it and gets told to
						// stop via done instead.
						delete(clients, client)
						if client.done != nil {
							close(client.done)
						}
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.JobID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe joins a job's room and queues the current snapshot as the
// client's first frame. The room add and the snapshot fetch both run inside
// the hub loop, serialized against broadcasts: a delta delivered before the
// join is reflected in the fetched snapshot (deltas are persisted before
// they are broadcast), and a delta delivered after lands behind the snapshot
// frame. The subscriber's view therefore only moves forward.
func (h *Hub) Subscribe(jobID string, fetchSnapshot func() *model.JobSnapshot) *Client {
	client := &Client{
		JobID: jobID,
		Send:  make(chan []byte, 256),
		done:  make(chan struct{}),
	}
	req := &joinRequest{client: client, fetch: fetchSnapshot, joined: make(chan struct{})}
	h.join <- req
	<-req.joined
	return client
}

// JobAccepted announces a freshly queued job to its room.
func (h *Hub) JobAccepted(jobID string, queuedAt time.Time) {
	h.send(jobID, model.WSAcceptedMessage{
		Type:     model.WSMessageTypeAccepted,
		JobID:    jobID,
		QueuedAt: queuedAt,
	})
}

// JobProgress sends a progress delta to all job subscribers
func (h *Hub) JobProgress(evt *model.Event) {
	h.send(evt.JobID, model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		JobID:    evt.JobID,
		Stage:    evt.Stage,
		Progress: evt.Progress,
		EtaSec:   evt.EtaSec,
		Version:  evt.Version,
		Ts:       evt.Ts,
	})
}

// JobComplete sends a completion delta to all job subscribers
func (h *Hub) JobComplete(evt *model.Event) {
	h.send(evt.JobID, model.WSCompleteMessage{
		Type:    model.WSMessageTypeComplete,
		JobID:   evt.JobID,
		Files:   evt.Files,
		Version: evt.Version,
		Ts:      evt.Ts,
	})
}

// JobError sends a failure delta to all job subscribers
func (h *Hub) JobError(evt *model.Event) {
	h.send(evt.JobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: evt.JobID,
		Error: model.JobError{
			Code:      evt.Code,
			Message:   evt.Message,
			Retryable: evt.Retryable,
		},
		Version: evt.Version,
		Ts:      evt.Ts,
	})
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal broadcast message: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{
		JobID:   jobID,
		Message: data,
	}
}

// HandleConnection services one subscriber: joins the room via Subscribe,
// then pumps queued frames out and reads keep-alive pings until the peer
// goes away or the hub evicts the client.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, fetchSnapshot func() *model.JobSnapshot) {
	client := h.Subscribe(jobID, fetchSnapshot)
	client.Conn = c
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.done:
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			select {
			case client.Send <- data:
			case <-client.done:
				return
			default:
				// Backlog full, the pong is droppable.
			}
		}
	}
}
