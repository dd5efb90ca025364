package feed

import (
	"context"
	"sync"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

// Memory broadcasts changes to subscribers in the same process.
type Memory struct {
	mu     sync.Mutex
	subs   map[chan cart.Change]struct{}
	logger *zap.Logger
}

func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		subs:   make(map[chan cart.Change]struct{}),
		logger: logger.Named("feed"),
	}
}

// Publish never blocks; a subscriber whose buffer is full misses the change.
func (m *Memory) Publish(ctx context.Context, change cart.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ch := range m.subs {
		select {
		case ch <- change:
		default:
			m.logger.Warn("dropping cart change for slow subscriber",
				zap.String("namespace", change.Namespace),
				zap.String("kind", string(change.Kind)),
			)
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan cart.Change, error) {
	ch := make(chan cart.Change, subscriberBuffer)

	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
