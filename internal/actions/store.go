package actions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/liana-admin/liana/internal/filters"
)

// ErrPendingNotFound is returned when no pending approval matches the given ID.
var ErrPendingNotFound = errors.New("pending approval not found")

// PendingApproval is a trigger attempt parked until an allowed role approves
// it. The original filter and timezone are kept so the approval re-evaluates
// exactly what the requester asked for.
type PendingApproval struct {
	ID                      string       `json:"id"`
	RequesterID             int          `json:"requesterId"`
	RequesterRoleID         int          `json:"requesterRoleId"`
	RenderingID             string       `json:"renderingId"`
	Collection              string       `json:"collection"`
	Action                  string       `json:"action"`
	Filters                 filters.Tree `json:"-"`
	Timezone                string       `json:"timezone"`
	RoleIDsAllowedToApprove []int        `json:"roleIdsAllowedToApprove"`
	CreatedAt               time.Time    `json:"createdAt"`
}

type pendingPayload struct {
	PendingApproval
	RawFilters json.RawMessage `json:"filters,omitempty"`
}

// ApprovalStore persists pending approvals in Redis with a TTL, so an
// unapproved request expires on its own instead of lingering forever.
type ApprovalStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewApprovalStore constructs an ApprovalStore.
func NewApprovalStore(client *redis.Client, ttl time.Duration) *ApprovalStore {
	return &ApprovalStore{client: client, ttl: ttl}
}

// Create stores a new pending approval and returns it with its assigned ID.
func (s *ApprovalStore) Create(ctx context.Context, pending PendingApproval) (PendingApproval, error) {
	pending.ID = uuid.NewString()
	pending.CreatedAt = time.Now().UTC()

	payload := pendingPayload{PendingApproval: pending}
	if pending.Filters != nil {
		raw, err := filters.Marshal(pending.Filters)
		if err != nil {
			return PendingApproval{}, err
		}
		payload.RawFilters = raw
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return PendingApproval{}, err
	}
	if err := s.client.Set(ctx, s.redisKey(pending.ID), data, s.ttl).Err(); err != nil {
		return PendingApproval{}, err
	}
	return pending, nil
}

// Get loads a pending approval by ID.
func (s *ApprovalStore) Get(ctx context.Context, id string) (PendingApproval, error) {
	data, err := s.client.Get(ctx, s.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingApproval{}, ErrPendingNotFound
		}
		return PendingApproval{}, err
	}
	var payload pendingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return PendingApproval{}, err
	}
	pending := payload.PendingApproval
	if len(payload.RawFilters) > 0 {
		tree, err := filters.Parse(payload.RawFilters)
		if err != nil {
			return PendingApproval{}, err
		}
		pending.Filters = tree
	}
	return pending, nil
}

// Delete removes a pending approval once it has been approved or rejected.
func (s *ApprovalStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.redisKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *ApprovalStore) redisKey(id string) string {
	return "liana:pending-approval:" + id
}
