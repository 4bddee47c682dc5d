package ledger

import (
	"context"
	"errors"

	"crm-feed/internal/repository"

	"gorm.io/gorm"
)

// SQLStore 基于 kv_entries 表的账本存储
type SQLStore struct {
	repo *repository.KVRepository
}

func NewSQLStore(repo *repository.KVRepository) *SQLStore {
	return &SQLStore{repo: repo}
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.repo.Get(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	return s.repo.Upsert(ctx, key, value)
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, key)
}
