package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/mall-pos/internal/domain/cart"
)

var _ cart.Store = (*Carts)(nil)

// Carts keeps open carts per session. Sessions never expire.
type Carts struct {
	mu       sync.Mutex
	sessions map[string][]cart.Line
}

func NewCarts() *Carts {
	return &Carts{sessions: make(map[string][]cart.Line)}
}

func (c *Carts) Load(_ context.Context, session string) ([]cart.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sessions[session]), nil
}

func (c *Carts) Save(_ context.Context, session string, lines []cart.Line) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(lines) == 0 {
		delete(c.sessions, session)
		return nil
	}
	c.sessions[session] = slices.Clone(lines)
	return nil
}

func (c *Carts) Delete(_ context.Context, session string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, session)
	return nil
}
