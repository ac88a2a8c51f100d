// syncqueue/connectivity.go
package syncqueue

import (
	"sync"

	"go.uber.org/zap"

	logger "github.com/vagasapp/cachecore/logging"
)

// Connectivity holds the host-reported online/offline state and fans state
// changes out to subscribers. The cache core never probes the network
// itself; the host environment pushes the signal in.
type Connectivity struct {
	mu       sync.Mutex
	online   bool
	nextID   int
	handlers map[int]func(online bool)
}

func NewConnectivity(online bool) *Connectivity {
	return &Connectivity{
		online:   online,
		handlers: make(map[int]func(bool)),
	}
}

// Online reports the last pushed state.
func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records a state change and notifies subscribers. Redundant
// pushes of the same state are ignored.
func (c *Connectivity) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	handlers := make([]func(bool), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	logger.Info("Connectivity changed", zap.Bool("online", online))
	for _, h := range handlers {
		h(online)
	}
}

// OnChange subscribes to state changes and returns an unsubscribe handle.
func (c *Connectivity) OnChange(handler func(online bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.handlers[id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}
