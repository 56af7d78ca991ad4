package memory

import (
	"context"
	"sync"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/core/ports"
)

// ConnectionDirectory is the in-process identity -> connection map. sync.Map
// gives per-key concurrency and the compare-and-delete needed to make Unbind
// safe against a racing rebind.
type ConnectionDirectory struct {
	conns sync.Map // domain.UserID -> domain.ConnectionID
}

func NewConnectionDirectory() ports.ConnectionDirectory {
	return &ConnectionDirectory{}
}

func (d *ConnectionDirectory) Bind(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error {
	d.conns.Store(user, conn)
	return nil
}

func (d *ConnectionDirectory) Unbind(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error {
	d.conns.CompareAndDelete(user, conn)
	return nil
}

func (d *ConnectionDirectory) Lookup(ctx context.Context, user domain.UserID) (domain.ConnectionID, bool, error) {
	v, ok := d.conns.Load(user)
	if !ok {
		return "", false, nil
	}
	return v.(domain.ConnectionID), true, nil
}
