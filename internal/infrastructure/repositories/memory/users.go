package memory

import (
	"context"
	"sync"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
)

// UserDirectory is an in-process profile cache standing in for the external
// user-management service. The hub upserts a profile from the token claims
// whenever an identity connects; deployments with a real user service plug
// their own ports.UserDirectory instead.
type UserDirectory struct {
	profiles sync.Map // domain.UserID -> domain.UserProfile
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{}
}

func (d *UserDirectory) Upsert(ctx context.Context, p domain.UserProfile) error {
	d.profiles.Store(p.ID, p)
	return nil
}

func (d *UserDirectory) FindByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	v, ok := d.profiles.Load(id)
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	p := v.(domain.UserProfile)
	return &p, nil
}
