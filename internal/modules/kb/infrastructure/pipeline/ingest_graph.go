package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/embedding"
	"KnowBase/pkg/util"
	"KnowBase/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

type ingestState struct {
	Req *IngestRequest

	TempDir string
	Docs    []*schema.Document
	Chunks  []*schema.Document
	Vectors [][]float32

	Files   int
	Stopped bool

	Start time.Time
	Err   error
}

func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*IngestRequest, *IngestResult], error) {
	const (
		Load     = "Load"
		Split    = "Split"
		Embed    = "Embed"
		Upload   = "Upload"
		Finalize = "Finalize"
	)

	g := compose.NewGraph[*IngestRequest, *IngestResult]()

	_ = g.AddLambdaNode(Load, compose.InvokableLambdaWithOption(p.loadNode), compose.WithNodeName(Load))
	_ = g.AddLambdaNode(Split, compose.InvokableLambdaWithOption(p.splitNode), compose.WithNodeName(Split))
	_ = g.AddLambdaNode(Embed, compose.InvokableLambdaWithOption(p.embedNode), compose.WithNodeName(Embed))
	_ = g.AddLambdaNode(Upload, compose.InvokableLambdaWithOption(p.uploadNode), compose.WithNodeName(Upload))
	_ = g.AddLambdaNode(Finalize, compose.InvokableLambdaWithOption(p.finalizeNode), compose.WithNodeName(Finalize))

	_ = g.AddEdge(compose.START, Load)
	_ = g.AddEdge(Load, Split)
	_ = g.AddEdge(Split, Embed)
	_ = g.AddEdge(Embed, Upload)
	_ = g.AddEdge(Upload, Finalize)
	_ = g.AddEdge(Finalize, compose.END)

	return g.Compile(ctx, compose.WithGraphName("KBIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// loadNode 整理源路径（目录原样、归档解包、单文件包成单元素目录）并
// 读入全部文本文档。进度 5 -> 10 -> 20。
func (p *IngestPipeline) loadNode(ctx context.Context, req *IngestRequest, _ ...any) (*ingestState, error) {
	st := &ingestState{Req: req, Start: time.Now()}
	if req == nil || req.KB == nil {
		st.Err = fmt.Errorf("nil request")
		return st, nil
	}
	if req.Model == nil {
		st.Err = fmt.Errorf("嵌入模型未绑定")
		return st, nil
	}

	kb := req.KB
	if !p.checkpoint(ctx, kb.Id, entity.StageLoading, 5, "开始加载源文件") {
		st.Stopped = true
		return st, nil
	}

	if strings.TrimSpace(kb.SourceFilePath) == "" {
		st.Err = fmt.Errorf("知识库未绑定源文件")
		return st, nil
	}

	dir, temp, err := p.extractor.Resolve(kb.SourceFilePath)
	if err != nil {
		st.Err = err
		return st, nil
	}
	if temp {
		st.TempDir = dir
	}

	if !p.checkpoint(ctx, kb.Id, entity.StageLoading, 10, "源文件就绪") {
		st.Stopped = true
		return st, nil
	}

	docs, err := p.ldr.Load(ctx, dir)
	if err != nil {
		st.Err = err
		return st, nil
	}
	if len(docs) == 0 {
		st.Err = fmt.Errorf("源归档中没有可读的文本文件")
		return st, nil
	}
	st.Docs = docs
	st.Files = len(docs)

	if !p.checkpoint(ctx, kb.Id, entity.StageLoading, 20, fmt.Sprintf("已加载 %d 个文件", len(docs))) {
		st.Stopped = true
	}
	return st, nil
}

// splitNode 按扩展名选择切分器。进度 30。
func (p *IngestPipeline) splitNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || st.Stopped {
		return st, nil
	}

	kb := st.Req.KB
	if !p.checkpoint(ctx, kb.Id, entity.StageChunking, 30, "切分文档") {
		st.Stopped = true
		return st, nil
	}

	chunks, err := p.selector.SplitAll(ctx, st.Docs)
	if err != nil {
		st.Err = err
		return st, nil
	}
	if len(chunks) == 0 {
		st.Err = fmt.Errorf("切分后没有任何内容块")
		return st, nil
	}
	st.Chunks = chunks
	return st, nil
}

// embedNode 分批嵌入。进度 40 起步，每批完成后 50 + 30*(done/total)。
func (p *IngestPipeline) embedNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || st.Stopped {
		return st, nil
	}

	kb := st.Req.KB
	m := st.Req.Model

	if !p.checkpoint(ctx, kb.Id, entity.StageEmbedding, 40, "开始生成向量") {
		st.Stopped = true
		return st, nil
	}

	client, err := p.newEmbedClient(ctx, embedding.ModelBinding{
		Name:        m.Name,
		EndpointURL: m.EndpointURL,
		APIKey:      m.APIKey,
		Dimensions:  m.Dimensions,
	}, p.batchSize)
	if err != nil {
		st.Err = err
		return st, nil
	}

	texts := make([]string, 0, len(st.Chunks))
	for _, c := range st.Chunks {
		texts = append(texts, c.Content)
	}

	vecs, stopped, err := client.EmbedBatches(ctx, texts, func(done, total int) bool {
		progress := 50 + 30*done/total
		return p.checkpoint(ctx, kb.Id, entity.StageEmbedding, progress,
			fmt.Sprintf("向量化进度 %d/%d 批", done, total))
	})
	if err != nil {
		st.Err = err
		return st, nil
	}
	if stopped {
		st.Stopped = true
		return st, nil
	}
	st.Vectors = vecs
	return st, nil
}

// uploadNode 写入向量集合。进度 80。
func (p *IngestPipeline) uploadNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || st.Stopped {
		return st, nil
	}

	kb := st.Req.KB
	if !p.checkpoint(ctx, kb.Id, entity.StageUploading, 80, "写入向量库") {
		st.Stopped = true
		return st, nil
	}
	if len(st.Vectors) != len(st.Chunks) {
		st.Err = fmt.Errorf("向量数 %d 与块数 %d 不一致", len(st.Vectors), len(st.Chunks))
		return st, nil
	}

	gotDim := len(st.Vectors[0])
	declared := st.Req.Model.Dimensions
	if declared > 0 && gotDim != declared {
		// 声明维度与实际返回不符属于模型配置错误，立即失败
		st.Err = fmt.Errorf("嵌入返回维度 %d 与模型声明维度 %d 不一致", gotDim, declared)
		return st, nil
	}
	if declared <= 0 {
		// 模型未声明维度：以首个向量为准，重建集合后写入
		if err := p.vs.RecreateCollection(ctx, kb.CollectionName(), gotDim); err != nil {
			st.Err = err
			return st, nil
		}
	}

	points := make([]repository.VectorPoint, 0, len(st.Chunks))
	for i, c := range st.Chunks {
		points = append(points, repository.VectorPoint{
			ID:           util.GenerateUUID(),
			Vector:       st.Vectors[i],
			Text:         c.Content,
			MetadataJSON: chunkMetadataJSON(c.MetaData),
		})
	}

	if err := p.vs.Upsert(ctx, kb.CollectionName(), points); err != nil {
		st.Err = err
		return st, nil
	}
	return st, nil
}

// finalizeNode 收尾：CAS processing -> ready，清理临时目录
func (p *IngestPipeline) finalizeNode(ctx context.Context, st *ingestState, _ ...any) (*IngestResult, error) {
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	if st.TempDir != "" {
		if err := os.RemoveAll(st.TempDir); err != nil {
			zlog.Warn("cleanup temp dir failed", zap.String("dir", st.TempDir), zap.Error(err))
		}
	}

	res := &IngestResult{
		Files:   st.Files,
		Chunks:  len(st.Chunks),
		Vectors: len(st.Vectors),
		Stopped: st.Stopped,
	}
	if st.Req != nil && st.Req.KB != nil {
		res.KBID = st.Req.KB.Id
	}
	res.DurationMs = time.Since(st.Start).Milliseconds()

	if st.Err != nil {
		return res, st.Err
	}
	if st.Stopped {
		// 被取消：status 已被外部改走，这里不再写任何状态
		zlog.Info("kb parsing cancelled", zap.Int64("kb_id", res.KBID), zap.Int64("ms", res.DurationMs))
		return res, nil
	}

	kb := st.Req.KB
	ok, err := p.repo.FinishProcessing(ctx, kb.Id, entity.ParsingState{
		Stage:    entity.StageComplete,
		Progress: 100,
		Message:  fmt.Sprintf("解析完成：%d 个文件，%d 个内容块", res.Files, res.Chunks),
	})
	if err != nil {
		return res, err
	}
	if !ok {
		res.Stopped = true
		zlog.Info("kb parsing cancelled at finalize", zap.Int64("kb_id", kb.Id))
		return res, nil
	}

	zlog.Info("kb parsing done",
		zap.Int64("kb_id", kb.Id),
		zap.Int("files", res.Files),
		zap.Int("chunks", res.Chunks),
		zap.Int("vectors", res.Vectors),
		zap.Int64("ms", res.DurationMs),
	)
	return res, nil
}

func chunkMetadataJSON(md map[string]any) string {
	if len(md) == 0 {
		return "{}"
	}
	bs, err := json.Marshal(md)
	if err != nil || len(bs) == 0 {
		return "{}"
	}
	return string(bs)
}
