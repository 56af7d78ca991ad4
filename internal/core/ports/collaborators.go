package ports

import (
	"context"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
)

// UserDirectory is the external user-management collaborator. The relay uses
// it to resolve the display name and avatar of a joining user server-side so
// clients cannot spoof another user's identity.
type UserDirectory interface {
	FindByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error)
}
