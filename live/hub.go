package live

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
)

// Message — кадр, уходящий подписчикам комнаты события.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	EventID int         `json:"event_id"`
}

// Hub держит websocket-подписчиков, сгруппированных по событию: зрители
// одного турнира получают обновления туров и партий только своего события.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	outbound   chan outboundMessage

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	logger *slog.Logger
}

type outboundMessage struct {
	room string
	data []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan outboundMessage, 64),
		rooms:      make(map[string]map[*Client]struct{}),
		logger:     logger,
	}
}

// Run обслуживает регистрацию и рассылку; запускается одной горутиной.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.room]; !ok {
				h.rooms[client.room] = make(map[*Client]struct{})
			}
			h.rooms[client.room][client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("live client joined", slog.String("room", client.room))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.room]; ok {
				if _, member := clients[client]; member {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.room)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("live client left", slog.String("room", client.room))

		case msg := <-h.outbound:
			h.mu.RLock()
			for client := range h.rooms[msg.room] {
				select {
				case client.send <- msg.data:
				default:
					// Медленный подписчик; кадр пропускается, соединение
					// закроет write pump по таймауту.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NotifyEvent реализует services.EventNotifier.
func (h *Hub) NotifyEvent(eventID int, messageType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: messageType, Payload: payload, EventID: eventID})
	if err != nil {
		h.logger.Error("failed to marshal live message",
			slog.String("type", messageType),
			slog.Any("error", err),
		)
		return
	}
	h.outbound <- outboundMessage{room: eventRoom(eventID), data: data}
}

func eventRoom(eventID int) string {
	return "event:" + strconv.Itoa(eventID)
}
