package cart

import "context"

// Store keeps cart lines between requests of one cashier session.
// Load returns no lines and no error for an unknown session.
type Store interface {
	Load(ctx context.Context, session string) ([]Line, error)
	Save(ctx context.Context, session string, lines []Line) error
	Delete(ctx context.Context, session string) error
}
