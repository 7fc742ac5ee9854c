package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/repository"
)

// Presence is what other users see: online now, or last seen when.
type Presence struct {
	UserID   uuid.UUID  `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// PresenceService tracks who is online. The flag carries a TTL so a relay
// crash degrades to "offline" instead of a stuck "online".
type PresenceService struct {
	repo repository.PresenceRepository
	ttl  time.Duration
}

func NewPresenceService(repo repository.PresenceRepository, ttl time.Duration) *PresenceService {
	return &PresenceService{repo: repo, ttl: ttl}
}

func (s *PresenceService) SetOnline(ctx context.Context, userID uuid.UUID) error {
	return s.repo.SetOnline(ctx, userID, s.ttl)
}

// Heartbeat keeps the online flag alive; the ws layer calls it on ping.
func (s *PresenceService) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	return s.repo.Refresh(ctx, userID, s.ttl)
}

func (s *PresenceService) SetOffline(ctx context.Context, userID uuid.UUID) error {
	return s.repo.SetOffline(ctx, userID, time.Now())
}

func (s *PresenceService) Get(ctx context.Context, userID uuid.UUID) (*Presence, error) {
	online, err := s.repo.IsOnline(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &Presence{UserID: userID, Online: online}
	if !online {
		lastSeen, err := s.repo.LastSeen(ctx, userID)
		if err != nil {
			return nil, err
		}
		p.LastSeen = lastSeen
	}
	return p, nil
}
