package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/infrastructure/embedding"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

type retrieveState struct {
	Req *RetrieveRequest

	Binding embedding.ModelBinding
	TopK    int

	QueryVector []float32
	Contexts    []RetrievedContext

	Err error
}

func (p *RetrievePipeline) buildGraph(ctx context.Context) (compose.Runnable[*RetrieveRequest, *RetrieveResult], error) {
	const (
		Validate   = "Validate"
		EmbedQuery = "EmbedQuery"
		Search     = "Search"
		Assemble   = "Assemble"
	)

	g := compose.NewGraph[*RetrieveRequest, *RetrieveResult]()

	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(EmbedQuery, compose.InvokableLambdaWithOption(p.embedQueryNode), compose.WithNodeName(EmbedQuery))
	_ = g.AddLambdaNode(Search, compose.InvokableLambdaWithOption(p.searchNode), compose.WithNodeName(Search))
	_ = g.AddLambdaNode(Assemble, compose.InvokableLambdaWithOption(p.assembleNode), compose.WithNodeName(Assemble))

	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, EmbedQuery)
	_ = g.AddEdge(EmbedQuery, Search)
	_ = g.AddEdge(Search, Assemble)
	_ = g.AddEdge(Assemble, compose.END)

	return g.Compile(ctx, compose.WithGraphName("KBRetrievePipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// validateNode 校验请求并解析嵌入模型绑定（取第一个知识库的绑定）
func (p *RetrievePipeline) validateNode(ctx context.Context, req *RetrieveRequest, _ ...any) (*retrieveState, error) {
	st := &retrieveState{Req: req}
	if req == nil {
		st.Err = fmt.Errorf("nil request")
		return st, nil
	}
	if strings.TrimSpace(req.Query) == "" {
		st.Err = xerr.New(xerr.BadRequest, "查询内容为空")
		return st, nil
	}
	if len(req.KBIDs) == 0 {
		st.Err = xerr.New(xerr.BadRequest, "未选择任何知识库")
		return st, nil
	}

	st.TopK = req.TopK
	if st.TopK <= 0 {
		st.TopK = p.defaultTopK
	}

	firstKB, err := p.kbRepo.GetByID(ctx, req.KBIDs[0])
	if err != nil {
		st.Err = err
		return st, nil
	}
	if firstKB == nil {
		st.Err = xerr.New(xerr.NotFound, fmt.Sprintf("知识库 %d 不存在", req.KBIDs[0]))
		return st, nil
	}
	if !firstKB.EmbeddingModelId.Valid {
		st.Err = xerr.New(xerr.BadRequest, fmt.Sprintf("知识库 %d 未绑定嵌入模型", firstKB.Id))
		return st, nil
	}

	m, err := p.modelRepo.GetByID(ctx, firstKB.EmbeddingModelId.Int64)
	if err != nil {
		st.Err = err
		return st, nil
	}
	if m == nil || m.ModelType != entity.ModelTypeEmbedding {
		st.Err = xerr.New(xerr.BadRequest, "知识库绑定的嵌入模型无效")
		return st, nil
	}

	st.Binding = embedding.ModelBinding{
		Name:        m.Name,
		EndpointURL: m.EndpointURL,
		APIKey:      m.APIKey,
		Dimensions:  m.Dimensions,
	}
	return st, nil
}

func (p *RetrievePipeline) embedQueryNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st == nil {
		return &retrieveState{Err: fmt.Errorf("nil state")}, nil
	}
	if st.Err != nil {
		return st, nil
	}

	client, err := p.newEmbedClient(ctx, st.Binding, 1)
	if err != nil {
		st.Err = err
		return st, nil
	}
	vec, err := client.EmbedQuery(ctx, st.Req.Query)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.QueryVector = vec
	return st, nil
}

// searchNode 逐库检索并合并。相同文本先到先留，单库失败告警跳过。
func (p *RetrievePipeline) searchNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st == nil {
		return &retrieveState{Err: fmt.Errorf("nil state")}, nil
	}
	if st.Err != nil {
		return st, nil
	}

	seen := make(map[string]struct{})
	var contexts []RetrievedContext

	for _, kbID := range st.Req.KBIDs {
		collection := entity.CollectionNameFor(kbID)
		hits, err := p.vs.Search(ctx, collection, st.QueryVector, st.TopK)
		if err != nil {
			zlog.Warn("search collection failed", zap.String("collection", collection), zap.Error(err))
			continue
		}
		for _, h := range hits {
			if _, ok := seen[h.Text]; ok {
				continue
			}
			seen[h.Text] = struct{}{}
			contexts = append(contexts, RetrievedContext{
				SourceKBID: kbID,
				FilePath:   filePathFromMetadata(h.MetadataJSON),
				Text:       h.Text,
				Score:      h.Score,
			})
		}
	}

	st.Contexts = contexts
	return st, nil
}

func (p *RetrievePipeline) assembleNode(ctx context.Context, st *retrieveState, _ ...any) (*RetrieveResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	if st.Err != nil {
		return nil, st.Err
	}

	texts := make([]string, 0, len(st.Contexts))
	for _, c := range st.Contexts {
		texts = append(texts, c.Text)
	}
	prompt := AssemblePrompt(st.Req.Query, texts)

	contexts := st.Contexts
	if contexts == nil {
		contexts = []RetrievedContext{}
	}
	return &RetrieveResult{
		Contexts:       contexts,
		EnhancedPrompt: prompt.Enhanced,
		Metaprompt:     prompt.Metaprompt,
		IsEmpty:        prompt.IsEmpty,
	}, nil
}

func filePathFromMetadata(metadataJSON string) string {
	if strings.TrimSpace(metadataJSON) == "" {
		return "N/A"
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(metadataJSON), &md); err != nil {
		return "N/A"
	}
	if fp, ok := md["file_path"].(string); ok && fp != "" {
		return fp
	}
	return "N/A"
}
