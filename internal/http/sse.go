package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hperssn/dailypractice/internal/navigation"
	"github.com/hperssn/dailypractice/internal/runner"
)

const subscriberBuffer = 16

// Broker fans navigation events out to stream subscribers. A slow subscriber
// misses events rather than blocking the timer that produced them.
type Broker struct {
	mu   sync.Mutex
	subs map[chan navigation.Event]string
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan navigation.Event]string)}
}

func (b *Broker) Publish(e navigation.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch, screenID := range b.subs {
		if screenID != "" && screenID != e.ScreenID {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
}

// NotifyCompletion forwards a finished practice to every unfiltered stream as
// a notification event.
func (b *Broker) NotifyCompletion(_ context.Context, c runner.Completion) error {
	b.Publish(navigation.Event{
		Kind:          navigation.EventNotification,
		StepID:        c.Key.StepID,
		PracticeIndex: c.Key.PracticeIndex,
		At:            c.CompletedAt,
	})
	return nil
}

// Subscribe returns events for screenID, or for every screen when screenID is
// empty. The returned func unsubscribes and closes the channel.
func (b *Broker) Subscribe(screenID string) (<-chan navigation.Event, func()) {
	ch := make(chan navigation.Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = screenID
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// StreamEvents serves events as server-sent events. With an {id} URL param
// the stream is limited to that screen.
func StreamEvents(bridge *navigation.Bridge, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id != "" {
			if _, err := bridge.Screen(id); err != nil {
				respondError(w, "view not found", http.StatusNotFound)
				return
			}
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		events, cancel := broker.Subscribe(id)
		defer cancel()

		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}

				data, _ := json.Marshal(e)
				w.Write([]byte("event: " + string(e.Kind) + "\n"))
				w.Write([]byte("data: "))
				w.Write(data)
				w.Write([]byte("\n\n"))

				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}
