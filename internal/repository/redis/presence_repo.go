package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceRepo keeps online flags and last-seen stamps in redis so presence
// survives relay restarts and can be shared across relay instances.
type PresenceRepo struct {
	client *goredis.Client
}

func NewPresenceRepo(client *goredis.Client) *PresenceRepo {
	return &PresenceRepo{client: client}
}

func onlineKey(userID uuid.UUID) string   { return "presence:online:" + userID.String() }
func lastSeenKey(userID uuid.UUID) string { return "presence:lastseen:" + userID.String() }

func (r *PresenceRepo) SetOnline(ctx context.Context, userID uuid.UUID, ttl time.Duration) error {
	return r.client.Set(ctx, onlineKey(userID), "1", ttl).Err()
}

// Refresh extends the online flag. The flag expiring on its own covers
// relay crashes that never delivered a disconnect.
func (r *PresenceRepo) Refresh(ctx context.Context, userID uuid.UUID, ttl time.Duration) error {
	return r.client.Expire(ctx, onlineKey(userID), ttl).Err()
}

func (r *PresenceRepo) SetOffline(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, onlineKey(userID))
	pipe.Set(ctx, lastSeenKey(userID), lastSeen.UTC().Format(time.RFC3339), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *PresenceRepo) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	err := r.client.Get(ctx, onlineKey(userID)).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PresenceRepo) LastSeen(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	val, err := r.client.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
