package pipeline

import (
	"context"
	"fmt"

	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/embedding"

	"github.com/cloudwego/eino/compose"
)

// RetrieveRequest 跨知识库检索请求。嵌入模型取第一个知识库绑定的模型，
// 要求所选知识库使用同一嵌入空间。
type RetrieveRequest struct {
	Query string
	KBIDs []int64
	TopK  int
}

// RetrievedContext 一条命中的上下文
type RetrievedContext struct {
	SourceKBID int64   `json:"source_kb_id"`
	FilePath   string  `json:"file_path"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

type RetrieveResult struct {
	Contexts       []RetrievedContext `json:"retrieved_contexts"`
	EnhancedPrompt string             `json:"enhanced_prompt"`
	Metaprompt     string             `json:"metaprompt,omitempty"`
	IsEmpty        bool               `json:"-"`
}

// RetrievePipeline 检索流水线：校验 -> 查询向量化 -> 逐库检索 ->
// 去重合并 -> 提示词组装。单个集合检索失败只告警跳过，不拖垮整体。
type RetrievePipeline struct {
	kbRepo    repository.KnowledgeBaseRepository
	modelRepo repository.ModelRepository
	vs        repository.VectorStore

	newEmbedClient EmbedClientFactory
	defaultTopK    int

	r compose.Runnable[*RetrieveRequest, *RetrieveResult]
}

func NewRetrievePipeline(
	kbRepo repository.KnowledgeBaseRepository,
	modelRepo repository.ModelRepository,
	vs repository.VectorStore,
	newEmbedClient EmbedClientFactory,
	defaultTopK int,
) (*RetrievePipeline, error) {
	if kbRepo == nil || modelRepo == nil || vs == nil {
		return nil, fmt.Errorf("retrieve pipeline missing dependency")
	}
	if newEmbedClient == nil {
		newEmbedClient = func(ctx context.Context, binding embedding.ModelBinding, batchSize int) (*embedding.Client, error) {
			return embedding.NewClient(ctx, binding, batchSize)
		}
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	p := &RetrievePipeline{
		kbRepo:         kbRepo,
		modelRepo:      modelRepo,
		vs:             vs,
		newEmbedClient: newEmbedClient,
		defaultTopK:    defaultTopK,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

func (p *RetrievePipeline) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	return p.r.Invoke(ctx, &req)
}
