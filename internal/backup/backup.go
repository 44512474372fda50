// Package backup keeps an off-process copy of subscription records in Redis.
// It is never consulted while the primary store is healthy; its only job is
// to survive a lost primary so records can be restored.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"reviewflow/internal/subscription"
)

const (
	recordKeyPrefix = "rf:subscription:"
	indexKey        = "rf:subscriptions"
)

type Store struct {
	client *redis.Client
}

func New(url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Store{client: redis.NewClient(opt)}, nil
}

// NewWithClient is used by tests backed by miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, tenantID string) (subscription.Record, error) {
	data, err := s.client.Get(ctx, recordKeyPrefix+tenantID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return subscription.Record{}, subscription.ErrNotFound
		}
		return subscription.Record{}, err
	}
	return decodeRecord(data)
}

func (s *Store) GetAll(ctx context.Context) ([]subscription.Record, error) {
	tenantIDs, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	var records []subscription.Record
	for _, tenantID := range tenantIDs {
		rec, err := s.Get(ctx, tenantID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				// Stale index entry; drop it.
				_ = s.client.SRem(ctx, indexKey, tenantID).Err()
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) Save(ctx context.Context, rec subscription.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKeyPrefix+rec.TenantID, data, 0)
	pipe.SAdd(ctx, indexKey, rec.TenantID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Update(ctx context.Context, rec subscription.Record) error {
	return s.Save(ctx, rec)
}

func (s *Store) Delete(ctx context.Context, tenantID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKeyPrefix+tenantID)
	pipe.SRem(ctx, indexKey, tenantID)
	_, err := pipe.Exec(ctx)
	return err
}

type recordDTO struct {
	TenantID          string     `json:"tenant_id"`
	UserID            string     `json:"user_id"`
	Status            string     `json:"status"`
	TrialStart        *time.Time `json:"trial_start,omitempty"`
	TrialEnd          *time.Time `json:"trial_end,omitempty"`
	SubscriptionStart *time.Time `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty"`
	PlanID            string     `json:"plan_id"`
	ProfileCount      int        `json:"profile_count"`
	PaidLocationIDs   []string   `json:"paid_location_ids"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func encodeRecord(rec subscription.Record) ([]byte, error) {
	return json.Marshal(recordDTO{
		TenantID:          rec.TenantID,
		UserID:            rec.UserID,
		Status:            string(rec.Status),
		TrialStart:        rec.TrialStart,
		TrialEnd:          rec.TrialEnd,
		SubscriptionStart: rec.SubscriptionStart,
		SubscriptionEnd:   rec.SubscriptionEnd,
		PlanID:            rec.PlanID,
		ProfileCount:      rec.ProfileCount,
		PaidLocationIDs:   rec.PaidLocationIDs,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	})
}

func decodeRecord(data []byte) (subscription.Record, error) {
	var dto recordDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return subscription.Record{}, err
	}
	return subscription.Record{
		TenantID:          dto.TenantID,
		UserID:            dto.UserID,
		Status:            subscription.Status(dto.Status),
		TrialStart:        dto.TrialStart,
		TrialEnd:          dto.TrialEnd,
		SubscriptionStart: dto.SubscriptionStart,
		SubscriptionEnd:   dto.SubscriptionEnd,
		PlanID:            dto.PlanID,
		ProfileCount:      dto.ProfileCount,
		PaidLocationIDs:   dto.PaidLocationIDs,
		CreatedAt:         dto.CreatedAt,
		UpdatedAt:         dto.UpdatedAt,
	}, nil
}
