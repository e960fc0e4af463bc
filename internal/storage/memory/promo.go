package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/promo"
)

// Promos is an in-memory promo.Repository.
type Promos struct {
	mu    sync.RWMutex
	codes map[string]promo.Code
}

func NewPromos(codes ...promo.Code) *Promos {
	p := &Promos{codes: make(map[string]promo.Code, len(codes))}
	for _, c := range codes {
		p.codes[c.Code] = c
	}
	return p
}

func (p *Promos) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.codes[code]
	if !ok {
		return nil, promo.ErrInvalidCode
	}
	return &c, nil
}

func (p *Promos) List(_ context.Context) ([]promo.Code, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]promo.Code, 0, len(p.codes))
	for _, c := range p.codes {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b promo.Code) int { return cmp.Compare(a.Code, b.Code) })
	return out, nil
}

func (p *Promos) Create(_ context.Context, c *promo.Code) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.codes[c.Code]; ok {
		return promo.ErrDuplicateCode
	}
	p.codes[c.Code] = *c
	return nil
}

func (p *Promos) SetActive(_ context.Context, code string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.codes[code]
	if !ok {
		return promo.ErrInvalidCode
	}
	c.Active = active
	p.codes[code] = c
	return nil
}

// APIKeys is an in-memory auth.Repository.
type APIKeys struct {
	mu   sync.RWMutex
	keys map[string]auth.APIKey
}

func NewAPIKeys(keys ...auth.APIKey) *APIKeys {
	a := &APIKeys{keys: make(map[string]auth.APIKey, len(keys))}
	for _, k := range keys {
		a.keys[k.ID] = k
	}
	return a
}

func (a *APIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, k := range a.keys {
		if k.Active && k.KeyHash == hash {
			return &k, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (a *APIKeys) Upsert(_ context.Context, k *auth.APIKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.keys[k.ID] = *k
	return nil
}
