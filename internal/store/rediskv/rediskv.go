// Package rediskv persists journals in Redis. Each ticket owns two
// keys: a list holding the serialized changes in append order, and a
// companion snapshot key acting as a read-through cache. Multi-key
// writes go through MULTI/EXEC so both keys move together or not at
// all. Attachments are not supported on this backend.
package rediskv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/codec"
	"github.com/gitblit-org/ticketstore/internal/config"
	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// Store is the key-value backend.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// New connects to Redis using the provided configuration.
func New(cfg config.RedisConfig, logger *zap.Logger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}
	return &Store{client: client, logger: logger}
}

// Close closes the client.
func (s *Store) Close() {
	if s != nil && s.client != nil {
		_ = s.client.Close()
	}
}

func (s *Store) Name() string { return "redis" }

func (s *Store) Ready(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func (s *Store) SupportsAttachments() bool { return false }

func journalKey(repository string, id int64) string {
	return fmt.Sprintf("%s:ticket:journal:%d", repository, id)
}

func objectKey(repository string, id int64) string {
	return fmt.Sprintf("%s:ticket:object:%d", repository, id)
}

func configKey(repository string) string {
	return fmt.Sprintf("%s:ticket:config", repository)
}

func (s *Store) HasTicket(ctx context.Context, repository string, id int64) bool {
	n, err := s.client.Exists(ctx, objectKey(repository, id)).Result()
	return err == nil && n > 0
}

// GetIds scans the snapshot key namespace. Reserved ids are present
// because reservation writes an empty snapshot key.
func (s *Store) GetIds(ctx context.Context, repository string) ([]int64, error) {
	prefix := fmt.Sprintf("%s:ticket:object:", repository)
	var ids []int64
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := strconv.ParseInt(strings.TrimPrefix(iter.Val(), prefix), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) GetJournal(ctx context.Context, repository string, id int64) ([]*domain.Change, error) {
	exists, err := s.client.Exists(ctx, objectKey(repository, id)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, util.NewNotFound("ticket", map[string]any{"repository": repository, "id": id})
	}
	entries, err := s.client.LRange(ctx, journalKey(repository, id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	journal := make([]*domain.Change, 0, len(entries))
	for _, entry := range entries {
		change, err := codec.DecodeChange([]byte(entry))
		if err != nil {
			return nil, err
		}
		journal = append(journal, change)
	}
	return journal, nil
}

// ReserveID durably reserves an id by writing an empty snapshot key.
// The id allocator reseeds by scanning these keys, so the reservation
// survives a restart.
func (s *Store) ReserveID(ctx context.Context, repository string, id int64) error {
	return s.client.SetNX(ctx, objectKey(repository, id), "", 0).Err()
}

// CommitChange folds the journal with the new change, then appends the
// change and replaces the snapshot in one transaction.
func (s *Store) CommitChange(ctx context.Context, repository string, id int64, change *domain.Change) error {
	journal, err := s.GetJournal(ctx, repository, id)
	if err != nil && !util.IsNotFound(err) {
		return err
	}
	journal = append(journal, change)

	ticket := domain.BuildTicket(journal)
	ticket.Repository = repository
	ticket.Number = id
	snapshot, err := codec.EncodeTicket(ticket)
	if err != nil {
		return err
	}
	entry, err := codec.EncodeChange(change)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, journalKey(repository, id), entry)
		pipe.Set(ctx, objectKey(repository, id), snapshot, 0)
		return nil
	})
	return err
}

func (s *Store) DeleteTicket(ctx context.Context, repository string, id int64, actor string) error {
	if !s.HasTicket(ctx, repository, id) {
		return util.NewNotFound("ticket", map[string]any{"repository": repository, "id": id})
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, journalKey(repository, id), objectKey(repository, id))
		return nil
	})
	return err
}

// DeleteAll removes every ticket key of the repository, settings
// included, in one transaction.
func (s *Store) DeleteAll(ctx context.Context, repository string) error {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("%s:ticket:*", repository))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

// Rename moves every ticket key to the new repository namespace.
func (s *Store) Rename(ctx context.Context, oldRepository, newRepository string) error {
	oldPrefix := oldRepository + ":ticket:"
	keys, err := s.scanKeys(ctx, oldPrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return util.NewNotFound("repository", map[string]any{"repository": oldRepository})
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Rename(ctx, key, newRepository+":ticket:"+strings.TrimPrefix(key, oldPrefix))
		}
		return nil
	})
	return err
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) GetAttachment(ctx context.Context, repository string, id int64, name string) (*domain.Attachment, error) {
	return nil, util.NewUnavailable("redis backend does not store attachments")
}

func (s *Store) ReadConfig(ctx context.Context, repository string) ([]byte, error) {
	data, err := s.client.Get(ctx, configKey(repository)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) WriteConfig(ctx context.Context, repository string, data []byte) error {
	return s.client.Set(ctx, configKey(repository), data, 0).Err()
}
