package stories

import (
	"sync"

	"storyreel/internal/playback"
)

const subscriberBuffer = 16

// hub fans viewer states out to subscribers. A subscriber that falls behind
// loses its oldest pending states; publish never blocks.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan playback.State
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan playback.State)}
}

func (h *hub) subscribe() (<-chan playback.State, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan playback.State, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *hub) publish(st playback.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		for {
			select {
			case ch <- st:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
