package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/rs/zerolog"
)

// EventBroadcaster pushes event frames to every authenticated client.
// Frames are numbered and delivered under one lock, so each client sees
// seq strictly increasing.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger

	mu  sync.Mutex
	seq int64
}

func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{clients: clients, logger: logger}
}

func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.BroadcastMessage(EventMessage{Event: event, Data: data})
}

// BroadcastMessage stamps msg with type, seq and (if unset) timestamp
func (b *EventBroadcaster) BroadcastMessage(msg EventMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	msg.Type = "event"
	msg.Seq = b.seq
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	log := b.logger.With().Str("event", msg.Event).Int64("seq", msg.Seq).Logger()

	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode event")
		return
	}

	var delivered, failed int
	for _, client := range b.clients.Authenticated() {
		if err := client.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Warn().Err(err).Str("clientId", client.ID).Msg("Event not delivered")
			failed++
			continue
		}
		delivered++
	}
	if delivered+failed > 0 {
		log.Debug().Int("delivered", delivered).Int("failed", failed).Msg("Event broadcast")
	}
}

// Seq returns the number of the last frame sent
func (b *EventBroadcaster) Seq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func relay[E any](b *EventBroadcaster, event string) commandqueue.Observer[E] {
	return commandqueue.ObserverFunc[E](func(_ any, ev E) {
		b.Broadcast(event, ev)
	})
}

// QueueObserver relays queue mutations as queue.changed
func (b *EventBroadcaster) QueueObserver() commandqueue.Observer[commandqueue.QueueEvent] {
	return relay[commandqueue.QueueEvent](b, EventQueueChanged)
}

// ProcessorObserver relays processor and current-command transitions as
// processor.changed
func (b *EventBroadcaster) ProcessorObserver() commandqueue.Observer[commandqueue.ProcessorEvent] {
	return relay[commandqueue.ProcessorEvent](b, EventProcessorChanged)
}
