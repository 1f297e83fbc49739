package entity

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// 知识库生命周期状态
const (
	KBStatusNew        = "new"
	KBStatusProcessing = "processing"
	KBStatusReady      = "ready"
	KBStatusError      = "error"
)

// 知识库类型：primary 为用户上传源，l2a/l2b 为 AI 派生子库
const (
	KBTypePrimary = "primary"
	KBTypeSummary = "l2a_summary"
	KBTypeGraph   = "l2b_graph"
)

// 解析阶段，写入 parsing_state
const (
	StageIdle      = "idle"
	StagePending   = "pending"
	StageLoading   = "loading"
	StageChunking  = "chunking"
	StageEmbedding = "embedding"
	StageUploading = "uploading"
	StageComplete  = "complete"
	StageCancelled = "cancelled"
	StageError     = "error"
)

// 模型类型
const (
	ModelTypeEmbedding  = "embedding"
	ModelTypeGenerative = "generative"
)

// ParsingState 记录解析进度，仅当 status == processing 时有意义
type ParsingState struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

func (s ParsingState) JSON() string {
	bs, err := json.Marshal(s)
	if err != nil || len(bs) == 0 {
		return "{}"
	}
	return string(bs)
}

// KnowledgeBase 系统的核心元数据表，一条记录对应一个向量集合
type KnowledgeBase struct {
	Id               int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Name             string         `gorm:"column:name;type:varchar(128);not null;index:idx_kb_name"`
	Description      string         `gorm:"column:description;type:text"`
	KBType           string         `gorm:"column:kb_type;type:varchar(30);not null;default:primary"`
	ParentId         sql.NullInt64  `gorm:"column:parent_id;index:idx_kb_parent"`
	SourceFilePath   string         `gorm:"column:source_file_path;type:varchar(512)"`
	Status           string         `gorm:"column:status;type:varchar(20);not null;default:new"`
	ParsingStateJson string         `gorm:"column:parsing_state;type:json"`
	EmbeddingModelId sql.NullInt64  `gorm:"column:embedding_model_id"`
	CreatedAt        time.Time      `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;type:datetime;not null"`
}

func (KnowledgeBase) TableName() string { return "knowledgebases" }

// CollectionName 知识库对应的向量集合名，可由 kb_id 独立推出（用于删除）
func (kb *KnowledgeBase) CollectionName() string { return CollectionNameFor(kb.Id) }

func CollectionNameFor(kbID int64) string { return fmt.Sprintf("kb_%d", kbID) }

// ParsingState 反序列化 parsing_state，解析失败时返回零值
func (kb *KnowledgeBase) ParsingState() ParsingState {
	var st ParsingState
	if kb.ParsingStateJson != "" {
		_ = json.Unmarshal([]byte(kb.ParsingStateJson), &st)
	}
	return st
}

// Model 嵌入/生成后端的可复用凭据描述
type Model struct {
	Id          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;type:varchar(128);not null"`
	ModelType   string    `gorm:"column:model_type;type:varchar(20);not null"`
	EndpointURL string    `gorm:"column:endpoint_url;type:varchar(512)"`
	APIKey      string    `gorm:"column:api_key;type:varchar(256)"`
	Dimensions  int       `gorm:"column:dimensions;type:int;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (Model) TableName() string { return "models" }
