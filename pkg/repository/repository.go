package repository

import (
	"context"
	"errors"

	"license-controlplane/pkg/db/option"

	"gorm.io/gorm"
)

// Repository is the generic persistence surface shared by the domain
// services. The query argument acts as a gorm struct filter; options refine
// ordering, locking and pagination.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
	Create(ctx context.Context, data *T) error
	BatchCreate(ctx context.Context, data []*T, batchSize int) error
	Update(ctx context.Context, id string, data interface{}) error
	BatchUpdate(ctx context.Context, query *T, data interface{}) error
	Delete(ctx context.Context, query *T) error
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	return &store[T]{db: tx}
}

func (s *store[T]) apply(ctx context.Context, opts []option.QueryOption) *gorm.DB {
	tx := s.db.WithContext(ctx)
	for _, opt := range opts {
		tx = opt(tx)
	}
	return tx
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var items []*T
	if err := s.apply(ctx, opts).Where(query).Find(&items).Error; err != nil {
		return nil, err
	}

	return items, nil
}

func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var item T
	if err := s.apply(ctx, opts).Where(query).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &item, nil
}

func (s *store[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	var model T
	var count int64
	if err := s.apply(ctx, opts).Model(&model).Where(query).Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

func (s *store[T]) Create(ctx context.Context, data *T) error {
	return s.db.WithContext(ctx).Create(data).Error
}

func (s *store[T]) BatchCreate(ctx context.Context, data []*T, batchSize int) error {
	if len(data) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).CreateInBatches(data, batchSize).Error
}

func (s *store[T]) Update(ctx context.Context, id string, data interface{}) error {
	var model T
	return s.db.WithContext(ctx).Model(&model).Where("id = ?", id).Updates(data).Error
}

func (s *store[T]) BatchUpdate(ctx context.Context, query *T, data interface{}) error {
	var model T
	return s.db.WithContext(ctx).Model(&model).Where(query).Updates(data).Error
}

func (s *store[T]) Delete(ctx context.Context, query *T) error {
	var model T
	return s.db.WithContext(ctx).Where(query).Delete(&model).Error
}
