package persistence

import (
	"context"
	"time"

	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"

	"gorm.io/gorm"
)

type modelRepositoryImpl struct {
	db *gorm.DB
}

func NewModelRepository(db *gorm.DB) repository.ModelRepository {
	return &modelRepositoryImpl{db: db}
}

func (r *modelRepositoryImpl) Create(ctx context.Context, m *entity.Model) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *modelRepositoryImpl) GetByID(ctx context.Context, id int64) (*entity.Model, error) {
	var m entity.Model
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if err == nil {
		return &m, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *modelRepositoryImpl) List(ctx context.Context) ([]entity.Model, error) {
	var ms []entity.Model
	err := r.db.WithContext(ctx).Order("id asc").Find(&ms).Error
	return ms, err
}

func (r *modelRepositoryImpl) Update(ctx context.Context, m *entity.Model) error {
	m.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *modelRepositoryImpl) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Model{}).Error
}
