package repository

import (
	"context"

	"KnowBase/internal/modules/kb/domain/entity"
)

// KnowledgeBaseRepository 元数据存储契约。
//
// 状态机要求（见 persistence 实现）：
// - BeginProcessing 必须是 status 上的原子 compare-and-set，避免两个并发的
//   启动请求同时进入 processing。
// - UpdateParsingStateIfProcessing 每次写进度前以存储中的当前状态为准
//   （而非内存缓存），status 不再是 processing 时返回 false，
//   流水线据此在检查点协作式停止。
type KnowledgeBaseRepository interface {
	Create(ctx context.Context, kb *entity.KnowledgeBase) error
	GetByID(ctx context.Context, id int64) (*entity.KnowledgeBase, error)
	List(ctx context.Context) ([]entity.KnowledgeBase, error)
	Update(ctx context.Context, kb *entity.KnowledgeBase) error
	Delete(ctx context.Context, id int64) error

	// FindChildByType 窄查询：parent 下指定类型的子库（机会主义查找用）
	FindChildByType(ctx context.Context, parentID int64, kbType string) (*entity.KnowledgeBase, error)

	// AttachSourceFile 绑定新源文件：重置状态、清除旧的嵌入模型绑定
	AttachSourceFile(ctx context.Context, id int64, path string) error

	// BeginProcessing CAS：status in (new, ready, error) -> processing，
	// 同时写入 parsing_state 与 embedding_model_id；竞争失败返回 false
	BeginProcessing(ctx context.Context, id int64, modelID int64, state entity.ParsingState) (bool, error)

	// UpdateParsingStateIfProcessing 仅当 status == processing 时写进度，
	// 返回 false 表示状态已被外部改变，调用方应停止后续工作
	UpdateParsingStateIfProcessing(ctx context.Context, id int64, state entity.ParsingState) (bool, error)

	// SetStatus 无条件写状态与 parsing_state（错误终态、取消等）
	SetStatus(ctx context.Context, id int64, status string, state entity.ParsingState) error

	// FinishProcessing CAS：processing -> ready，用于流水线收尾；
	// 返回 false 表示状态已被外部改变（如取消）
	FinishProcessing(ctx context.Context, id int64, state entity.ParsingState) (bool, error)
}

// ModelRepository 模型凭据表的 CRUD
type ModelRepository interface {
	Create(ctx context.Context, m *entity.Model) error
	GetByID(ctx context.Context, id int64) (*entity.Model, error)
	List(ctx context.Context) ([]entity.Model, error)
	Update(ctx context.Context, m *entity.Model) error
	Delete(ctx context.Context, id int64) error
}
