package repository

import "context"

// VectorPoint 一条待写入的向量记录
type VectorPoint struct {
	ID           string
	Vector       []float32
	Text         string
	MetadataJSON string
}

// VectorSearchHit 向量检索命中结果
type VectorSearchHit struct {
	ID           string
	Score        float32
	Text         string
	MetadataJSON string
}

// VectorStore 向量库契约，集合以知识库为粒度（kb_<id>）。
// application/pipeline 只依赖本接口，底层可替换（Milvus/pgvector 等）。
type VectorStore interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	// CreateCollection 以余弦度量建集合
	CreateCollection(ctx context.Context, name string, dim int) error
	// RecreateCollection 破坏性重建（维度不一致时的唯一修复手段）
	RecreateCollection(ctx context.Context, name string, dim int) error
	// GetCollectionDim 返回集合当前向量维度
	GetCollectionDim(ctx context.Context, name string) (int, error)
	Upsert(ctx context.Context, name string, points []VectorPoint) error
	Search(ctx context.Context, name string, vector []float32, topK int) ([]VectorSearchHit, error)
	DropCollection(ctx context.Context, name string) error
}
