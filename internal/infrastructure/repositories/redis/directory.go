package redis

import (
	"context"
	"fmt"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// unbindScript deletes the binding only when it still points at the given
// connection, mirroring the compare-and-delete of the memory directory.
var unbindScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ConnectionDirectory stores identity -> connection bindings in Redis so
// several relay nodes can share one directory.
type ConnectionDirectory struct {
	client *redis.Client
	prefix string
}

func NewConnectionDirectory(client *redis.Client) ports.ConnectionDirectory {
	return &ConnectionDirectory{
		client: client,
		prefix: "voicehub:conn:",
	}
}

func (d *ConnectionDirectory) key(user domain.UserID) string {
	return d.prefix + string(user)
}

func (d *ConnectionDirectory) Bind(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error {
	if err := d.client.Set(ctx, d.key(user), string(conn), 0).Err(); err != nil {
		return fmt.Errorf("failed to bind connection in Redis: %w", err)
	}
	return nil
}

func (d *ConnectionDirectory) Unbind(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error {
	if err := unbindScript.Run(ctx, d.client, []string{d.key(user)}, string(conn)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to unbind connection in Redis: %w", err)
	}
	return nil
}

func (d *ConnectionDirectory) Lookup(ctx context.Context, user domain.UserID) (domain.ConnectionID, bool, error) {
	val, err := d.client.Get(ctx, d.key(user)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up connection in Redis: %w", err)
	}
	return domain.ConnectionID(val), true, nil
}
