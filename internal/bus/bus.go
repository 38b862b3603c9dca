// Package bus fans committed store writes out to subscribed clients as
// server-sent-event frames. The bus is an in-process observer: the frame
// counter starts at zero on every boot, and clients resynchronize against
// the InitialEvent frame rather than relying on replay.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/storage"
)

// Compile-time interface verification.
var _ storage.WriteObserver = (*EventBus)(nil)

// ClassInitial is the frame class delivered once to every new subscriber.
// It carries the current counter value so a reconnecting client can detect
// whether frames were missed while it was away.
const ClassInitial = "InitialEvent"

// initialRetryMillis is the reconnect delay advertised on the first frame.
const initialRetryMillis = 5000

type (
	// Frame is one server-sent event. Data holds the rendered JSON payload.
	Frame struct {
		ID    int
		Class string
		Data  []byte
		Retry int // reconnect delay in milliseconds; 0 omits the field
	}

	// EventBus implements storage.WriteObserver and distributes one frame
	// per committed store write to every subscribed listener. Fan-out never
	// blocks: each listener buffers at most the latest undelivered frame,
	// and a newer frame replaces an unconsumed older one.
	EventBus struct {
		logger *slog.Logger

		mutex     sync.Mutex
		counter   int
		nextID    uint64
		listeners map[uint64]chan Frame
	}

	// incidentPayload is the data object for Incident frames.
	incidentPayload struct {
		EventID        string `json:"event_id"`
		IncidentNumber int    `json:"incident_number"`
	}

	// fieldReportPayload is the data object for FieldReport frames.
	fieldReportPayload struct {
		EventID           string `json:"event_id"`
		FieldReportNumber int    `json:"field_report_number"`
	}

	// initialPayload is the data object for InitialEvent frames.
	initialPayload struct {
		Count int `json:"count"`
	}
)

// New creates an event bus with no listeners and the frame counter at zero.
func New() *EventBus {
	return &EventBus{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("IMS_LOG_LEVEL", slog.LevelInfo),
		})).With("component", "event_bus"),
		listeners: make(map[uint64]chan Frame),
	}
}

// Render returns the frame in text/event-stream wire form, terminated by
// the blank line that ends a server-sent event.
func (f Frame) Render() []byte {
	var out []byte

	if f.Retry > 0 {
		out = fmt.Appendf(out, "retry: %d\n", f.Retry)
	}

	out = fmt.Appendf(out, "id: %d\n", f.ID)
	out = fmt.Appendf(out, "event: %s\n", f.Class)
	out = fmt.Appendf(out, "data:%s\n\n", f.Data)

	return out
}

// Subscribe registers a listener and returns the InitialEvent frame along
// with the channel subsequent frames arrive on. The listener is removed and
// its channel closed when ctx is done; for HTTP subscribers that happens on
// client disconnect or on the first failed socket write, since either ends
// the request and cancels its context.
func (b *EventBus) Subscribe(ctx context.Context) (Frame, <-chan Frame) {
	frames := make(chan Frame, 1)

	b.mutex.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = frames
	initial := Frame{
		ID:    b.counter,
		Class: ClassInitial,
		Data:  mustMarshal(initialPayload{Count: b.counter}),
		Retry: initialRetryMillis,
	}
	b.mutex.Unlock()

	b.logger.Debug("listener subscribed", "listener_id", id, "counter", initial.ID)

	go func() {
		<-ctx.Done()

		b.mutex.Lock()
		delete(b.listeners, id)
		close(frames)
		b.mutex.Unlock()

		b.logger.Debug("listener removed", "listener_id", id)
	}()

	return initial, frames
}

// StoreWrite implements storage.WriteObserver. It renders the committed
// write as a frame and offers it to every listener without blocking.
func (b *EventBus) StoreWrite(event storage.WriteEvent) {
	data, ok := renderPayload(event)
	if !ok {
		// Unknown write class; nothing to announce.
		return
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.counter++
	frame := Frame{
		ID:    b.counter,
		Class: string(event.Class),
		Data:  data,
	}

	for _, frames := range b.listeners {
		offer(frames, frame)
	}
}

// Listeners reports the number of active subscribers.
func (b *EventBus) Listeners() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return len(b.listeners)
}

// offer queues the frame without blocking. When the listener has not yet
// consumed its previous frame, the older one is dropped in favor of the
// newer: the channel holds at most the latest frame.
func offer(frames chan Frame, frame Frame) {
	select {
	case frames <- frame:
	default:
		select {
		case <-frames:
		default:
		}
		select {
		case frames <- frame:
		default:
		}
	}
}

func renderPayload(event storage.WriteEvent) ([]byte, bool) {
	switch event.Class {
	case storage.WriteClassIncident:
		return mustMarshal(incidentPayload{
			EventID:        event.Event,
			IncidentNumber: event.Number,
		}), true
	case storage.WriteClassFieldReport:
		return mustMarshal(fieldReportPayload{
			EventID:           event.Event,
			FieldReportNumber: event.Number,
		}), true
	default:
		return nil, false
	}
}

// mustMarshal serializes payloads whose types cannot fail to marshal.
func mustMarshal(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}

	return data
}
