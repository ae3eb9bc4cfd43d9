// Package identity resolves authenticated user ids to rider profiles and
// actors. Credentials are checked elsewhere; a user counts as signed in
// here only once a profile document exists for them.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/store"
)

// Provider looks up profiles in the live store.
type Provider struct {
	store store.Store
}

// NewProvider returns a provider reading profiles from s.
func NewProvider(s store.Store) *Provider {
	return &Provider{store: s}
}

// Profile returns the profile of userID.
func (p *Provider) Profile(ctx context.Context, userID string) (model.Profile, error) {
	if userID == "" {
		return model.Profile{}, domain.ErrUnauthenticated
	}
	doc, err := p.store.Get(ctx, model.RiderPath(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Profile{}, fmt.Errorf("%w: no profile for %s", domain.ErrUnauthenticated, userID)
		}
		return model.Profile{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return model.ProfileFromDocument(doc), nil
}

// Actor resolves userID to an actor. The role stored on the profile wins
// over the one claimed by the token.
func (p *Provider) Actor(ctx context.Context, userID string) (domain.Actor, model.Profile, error) {
	prof, err := p.Profile(ctx, userID)
	if err != nil {
		return domain.Actor{}, model.Profile{}, err
	}
	a := domain.Actor{ID: prof.ID, Role: domain.ParseRole(prof.Role), Name: prof.Name}
	if !a.Resolved() {
		return domain.Actor{}, model.Profile{}, fmt.Errorf("%w: profile %s has no valid role", domain.ErrUnauthenticated, userID)
	}
	return a, prof, nil
}
