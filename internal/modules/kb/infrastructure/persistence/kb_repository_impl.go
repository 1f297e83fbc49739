package persistence

import (
	"context"
	"time"

	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"

	"gorm.io/gorm"
)

type kbRepositoryImpl struct {
	db *gorm.DB
}

func NewKnowledgeBaseRepository(db *gorm.DB) repository.KnowledgeBaseRepository {
	return &kbRepositoryImpl{db: db}
}

func (r *kbRepositoryImpl) Create(ctx context.Context, kb *entity.KnowledgeBase) error {
	now := time.Now()
	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = now
	}
	kb.UpdatedAt = now
	if kb.Status == "" {
		kb.Status = entity.KBStatusNew
	}
	if kb.KBType == "" {
		kb.KBType = entity.KBTypePrimary
	}
	if kb.ParsingStateJson == "" {
		kb.ParsingStateJson = entity.ParsingState{Stage: entity.StageIdle}.JSON()
	}
	return r.db.WithContext(ctx).Create(kb).Error
}

func (r *kbRepositoryImpl) GetByID(ctx context.Context, id int64) (*entity.KnowledgeBase, error) {
	var kb entity.KnowledgeBase
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&kb).Error
	if err == nil {
		return &kb, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *kbRepositoryImpl) List(ctx context.Context) ([]entity.KnowledgeBase, error) {
	var kbs []entity.KnowledgeBase
	err := r.db.WithContext(ctx).Order("id asc").Find(&kbs).Error
	return kbs, err
}

func (r *kbRepositoryImpl) Update(ctx context.Context, kb *entity.KnowledgeBase) error {
	kb.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(kb).Error
}

func (r *kbRepositoryImpl) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.KnowledgeBase{}).Error
}

// FindChildByType 窄查询 "children of X with type Y"，取最新一条
func (r *kbRepositoryImpl) FindChildByType(ctx context.Context, parentID int64, kbType string) (*entity.KnowledgeBase, error) {
	var kb entity.KnowledgeBase
	err := r.db.WithContext(ctx).
		Where("parent_id = ? AND kb_type = ?", parentID, kbType).
		Order("id desc").
		Take(&kb).Error
	if err == nil {
		return &kb, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

// AttachSourceFile 换源后回到待解析状态：清空嵌入模型绑定，status 置为 error
// （表示需要重新解析），parsing_state 归零
func (r *kbRepositoryImpl) AttachSourceFile(ctx context.Context, id int64, path string) error {
	return r.db.WithContext(ctx).Model(&entity.KnowledgeBase{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"source_file_path":   path,
			"status":             entity.KBStatusError,
			"parsing_state":      entity.ParsingState{Stage: entity.StageIdle}.JSON(),
			"embedding_model_id": nil,
			"updated_at":         time.Now(),
		}).Error
}

// BeginProcessing 单行原子 CAS，两个并发启动请求只有一个能赢
func (r *kbRepositoryImpl) BeginProcessing(ctx context.Context, id int64, modelID int64, state entity.ParsingState) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.KnowledgeBase{}).
		Where("id = ? AND status IN ?", id, []string{entity.KBStatusNew, entity.KBStatusReady, entity.KBStatusError}).
		Updates(map[string]any{
			"status":             entity.KBStatusProcessing,
			"parsing_state":      state.JSON(),
			"embedding_model_id": modelID,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateParsingStateIfProcessing 检查点写入：条件更新以存储中的当前
// status 为准，status 被外部改走时零行生效，返回 false
func (r *kbRepositoryImpl) UpdateParsingStateIfProcessing(ctx context.Context, id int64, state entity.ParsingState) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.KnowledgeBase{}).
		Where("id = ? AND status = ?", id, entity.KBStatusProcessing).
		Updates(map[string]any{
			"parsing_state": state.JSON(),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *kbRepositoryImpl) SetStatus(ctx context.Context, id int64, status string, state entity.ParsingState) error {
	return r.db.WithContext(ctx).Model(&entity.KnowledgeBase{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"parsing_state": state.JSON(),
			"updated_at":    time.Now(),
		}).Error
}

func (r *kbRepositoryImpl) FinishProcessing(ctx context.Context, id int64, state entity.ParsingState) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.KnowledgeBase{}).
		Where("id = ? AND status = ?", id, entity.KBStatusProcessing).
		Updates(map[string]any{
			"status":        entity.KBStatusReady,
			"parsing_state": state.JSON(),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
