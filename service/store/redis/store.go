// Package redis implements the shared atomic store on redis. The three
// scheduling operations run as server-side scripts so that concurrent
// processes observe each of them as indivisible, and every state write
// publishes its notification inside the same transaction.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/viant/labq/model"
	"github.com/viant/labq/service/store"
)

// Config holds the redis connection settings.
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// DefaultConfig returns settings for a local redis.
func DefaultConfig() Config {
	return Config{Addr: "localhost:6379"}
}

// Store implements store.Store backed by a redis client.
type Store struct {
	client *redis.Client
	logger *zap.Logger

	storeScript  *redis.Script
	assignScript *redis.Script
	statusScript *redis.Script
	cancelScript *redis.Script
}

// New connects to redis, registers the scripts and writes the liveness
// sentinel that the aggregator polls to detect a store reset.
func New(ctx context.Context, config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	ret := &Store{
		client:       client,
		logger:       logger,
		storeScript:  redis.NewScript(storeReservationScript),
		assignScript: redis.NewScript(assignReservationScript),
		statusScript: redis.NewScript(reservationStatusScript),
		cancelScript: redis.NewScript(cancelReservationScript),
	}
	if err := client.Set(ctx, runningKey, "true", 0).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %v: %w", config.Addr, err)
	}
	return ret, nil
}

func (s *Store) StoreReservation(ctx context.Context, request *model.ReservationRequest) error {
	if len(request.Resources) == 0 {
		return fmt.Errorf("reservation %v has no candidate resources", request.Identifier)
	}
	metadata, err := request.EncodeMetadata()
	if err != nil {
		return err
	}
	args := []interface{}{
		request.Identifier,
		metadata,
		request.Laboratory,
		request.Priority,
		request.UserIdentifier,
	}
	for _, resourceID := range request.Resources {
		args = append(args, resourceID)
	}
	if err := s.storeScript.Run(ctx, s.client, nil, args...).Err(); err != nil {
		return fmt.Errorf("failed to store reservation %v: %w", request.Identifier, err)
	}
	return nil
}

func (s *Store) AssignReservation(ctx context.Context, resourceID string) (string, error) {
	result, err := s.assignScript.Run(ctx, s.client, nil, resourceID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to assign reservation to %v: %w", resourceID, err)
	}
	reservationID, _ := result.(string)
	if reservationID != "" {
		s.logger.Debug("Claimed reservation.",
			zap.String("resource", resourceID),
			zap.String("reservation_id", reservationID))
	}
	return reservationID, nil
}

func (s *Store) ReservationStatus(ctx context.Context, reservationID string) (*model.ReservationStatus, error) {
	result, err := s.statusScript.Run(ctx, s.client, nil, reservationID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status of %v: %w", reservationID, err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected status reply for %v: %v", reservationID, result)
	}
	status, _ := values[0].(string)
	sessionID, _ := values[1].(string)
	position, _ := values[2].(int64)
	url, _ := values[3].(string)
	return &model.ReservationStatus{
		ReservationID: reservationID,
		Status:        model.Status(status),
		SessionID:     sessionID,
		Position:      int(position),
		URL:           url,
	}, nil
}

func (s *Store) CurrentStatus(ctx context.Context, reservationID string) (model.Status, error) {
	status, err := s.client.HGet(ctx, reservationKey(reservationID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status of %v: %w", reservationID, err)
	}
	return model.Status(status), nil
}

func (s *Store) CancelReservation(ctx context.Context, reservationID string) (bool, error) {
	result, err := s.cancelScript.Run(ctx, s.client, nil, reservationID).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to cancel reservation %v: %w", reservationID, err)
	}
	if result < 0 {
		return false, store.ErrNotFound
	}
	return result == 1, nil
}

func (s *Store) SetReservationStatus(ctx context.Context, reservationID string, status model.Status) error {
	pipeline := s.client.TxPipeline()
	pipeline.HSet(ctx, reservationKey(reservationID), "status", string(status))
	pipeline.Publish(ctx, reservationChannel(reservationID), string(status))
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set status %v on %v: %w", status, reservationID, err)
	}
	return nil
}

func (s *Store) MarkReservationReady(ctx context.Context, reservationID, resourceID, url, sessionID string) error {
	pipeline := s.client.TxPipeline()
	pipeline.HSet(ctx, reservationKey(reservationID),
		"resource", resourceID,
		"url", url,
		"session_id", sessionID,
		"status", string(model.StatusReady))
	pipeline.Publish(ctx, reservationChannel(reservationID), string(model.StatusReady))
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark %v ready on %v: %w", reservationID, resourceID, err)
	}
	return nil
}

func (s *Store) ReservationMetadata(ctx context.Context, reservationID string) (*model.ReservationRequest, error) {
	metadata, err := s.client.HGet(ctx, reservationKey(reservationID), "metadata").Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of %v: %w", reservationID, err)
	}
	return model.DecodeMetadata(metadata)
}

func (s *Store) ReservationSession(ctx context.Context, reservationID string) (string, error) {
	sessionID, err := s.client.HGet(ctx, reservationKey(reservationID), "session_id").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session of %v: %w", reservationID, err)
	}
	return sessionID, nil
}

func (s *Store) AssignedReservation(ctx context.Context, resourceID string) (string, error) {
	reservationID, err := s.client.Get(ctx, resourceAssignedKey(resourceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read assignment of %v: %w", resourceID, err)
	}
	return reservationID, nil
}

func (s *Store) DeassignResource(ctx context.Context, resourceID string) error {
	if err := s.client.Del(ctx, resourceAssignedKey(resourceID)).Err(); err != nil {
		return fmt.Errorf("failed to deassign %v: %w", resourceID, err)
	}
	return nil
}

func (s *Store) UserOwnsReservation(ctx context.Context, userID, reservationID string) (bool, error) {
	owns, err := s.client.SIsMember(ctx, userReservationsKey(userID), reservationID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ownership of %v: %w", reservationID, err)
	}
	return owns, nil
}

func (s *Store) SubscribeReservation(ctx context.Context, reservationID string) (store.Subscription, error) {
	return s.subscribe(ctx, reservationChannel(reservationID))
}

func (s *Store) SubscribeResource(ctx context.Context, resourceID string) (store.Subscription, error) {
	return s.subscribe(ctx, resourceChannel(resourceID))
}

func (s *Store) subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	// Force the subscription round-trip so a publish issued after this call
	// returns is guaranteed to be delivered.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channel, err)
	}
	return &subscription{pubsub: pubsub}, nil
}

func (s *Store) Running(ctx context.Context) (bool, error) {
	value, err := s.client.Get(ctx, runningKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read liveness sentinel: %w", err)
	}
	return value == "true", nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

type subscription struct {
	pubsub *redis.PubSub
}

func (s *subscription) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case _, ok := <-s.pubsub.Channel():
		return ok, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *subscription) Close() error {
	return s.pubsub.Close()
}

// ensure Store implements the contract
var _ store.Store = (*Store)(nil)
