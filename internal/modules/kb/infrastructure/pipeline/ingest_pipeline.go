package pipeline

import (
	"context"
	"fmt"

	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/embedding"
	"KnowBase/internal/modules/kb/infrastructure/extract"
	"KnowBase/internal/modules/kb/infrastructure/loader"
	"KnowBase/internal/modules/kb/infrastructure/splitting"
	"KnowBase/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// IngestRequest 一次解析的输入：知识库与其绑定的嵌入模型（已查出，
// 流水线内不回表）
type IngestRequest struct {
	KB    *entity.KnowledgeBase
	Model *entity.Model
}

type IngestResult struct {
	KBID       int64 `json:"kb_id"`
	Files      int   `json:"files"`
	Chunks     int   `json:"chunks"`
	Vectors    int   `json:"vectors"`
	Stopped    bool  `json:"stopped"`
	DurationMs int64 `json:"duration_ms"`
}

// EmbedClientFactory 按模型凭据构造嵌入客户端，测试时注入 mock
type EmbedClientFactory func(ctx context.Context, binding embedding.ModelBinding, batchSize int) (*embedding.Client, error)

// IngestPipeline 异步解析流水线：解包 -> 加载 -> 切分 -> 嵌入 -> 上传。
// 各阶段边界处做检查点：进度写入以存储中当前 status 为条件，
// status 不再是 processing 时协作式停止，不回滚已写入的向量。
type IngestPipeline struct {
	repo      repository.KnowledgeBaseRepository
	vs        repository.VectorStore
	extractor *extract.Extractor
	ldr       *loader.DirectoryLoader
	selector  *splitting.Selector

	newEmbedClient EmbedClientFactory
	batchSize      int

	r compose.Runnable[*IngestRequest, *IngestResult]
}

func NewIngestPipeline(
	repo repository.KnowledgeBaseRepository,
	vs repository.VectorStore,
	extractor *extract.Extractor,
	ldr *loader.DirectoryLoader,
	selector *splitting.Selector,
	newEmbedClient EmbedClientFactory,
	batchSize int,
) (*IngestPipeline, error) {
	if repo == nil || vs == nil || extractor == nil || ldr == nil || selector == nil {
		return nil, fmt.Errorf("ingest pipeline missing dependency")
	}
	if newEmbedClient == nil {
		newEmbedClient = func(ctx context.Context, binding embedding.ModelBinding, batchSize int) (*embedding.Client, error) {
			return embedding.NewClient(ctx, binding, batchSize)
		}
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	p := &IngestPipeline{
		repo:           repo,
		vs:             vs,
		extractor:      extractor,
		ldr:            ldr,
		selector:       selector,
		newEmbedClient: newEmbedClient,
		batchSize:      batchSize,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Run 执行一次解析。调用方已通过 CAS 把 status 置为 processing，
// 本方法负责把终态写回（ready / error / 取消后的保持）。
func (p *IngestPipeline) Run(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	res, err := p.r.Invoke(ctx, &req)
	if err != nil && req.KB != nil {
		// 任何阶段失败都把失败原因写进 parsing_state，终态 error
		st := entity.ParsingState{Stage: entity.StageError, Progress: 0, Message: err.Error()}
		if serr := p.repo.SetStatus(context.WithoutCancel(ctx), req.KB.Id, entity.KBStatusError, st); serr != nil {
			zlog.Error("write error state failed", zap.Int64("kb_id", req.KB.Id), zap.Error(serr))
		}
	}
	return res, err
}

// checkpoint 写一次进度。返回 false 表示 status 已不是 processing，
// 调用方应停止后续工作。写入本身出错只告警不终止：进度丢一拍无害，
// 只有条件更新命中零行才是取消信号。
func (p *IngestPipeline) checkpoint(ctx context.Context, kbID int64, stage string, progress int, msg string) bool {
	ok, err := p.repo.UpdateParsingStateIfProcessing(ctx, kbID, entity.ParsingState{
		Stage:    stage,
		Progress: progress,
		Message:  msg,
	})
	if err != nil {
		zlog.Warn("checkpoint write failed", zap.Int64("kb_id", kbID), zap.String("stage", stage), zap.Error(err))
		return true
	}
	if !ok {
		zlog.Info("parsing stopped at checkpoint", zap.Int64("kb_id", kbID), zap.String("stage", stage))
	}
	return ok
}
