package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator resolves a code entered at checkout to an applicable rule.
type Validator interface {
	Validate(ctx context.Context, code string) (*Code, error)
}

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the code and rejects it when it is inactive or expired.
// A code is still accepted at the instant it expires.
func (v *RepoValidator) Validate(ctx context.Context, code string) (*Code, error) {
	code = Normalize(code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return nil, ErrInvalidCode
		}
		return nil, errors.Wrap(err, "lookup promo code")
	}
	if !c.Active {
		return nil, ErrInvalidCode
	}
	if c.ExpiresAt != nil && v.now().After(*c.ExpiresAt) {
		return nil, ErrExpired
	}
	return c, nil
}
