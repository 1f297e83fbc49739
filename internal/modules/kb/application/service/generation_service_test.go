package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/extract"
	"KnowBase/internal/modules/kb/infrastructure/pipeline"
	"KnowBase/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type genFixture struct {
	kbRepo    *stubKBRepo
	modelRepo *stubModelRepo
	vs        *stubVectorStore
	chat      *stubChatModel
	svc       GenerationService
}

func newGenFixture(t *testing.T, chat *stubChatModel, sizeThreshold int64) *genFixture {
	t.Helper()

	kbRepo := newStubKBRepo()
	modelRepo := newStubModelRepo(
		&entity.Model{Id: 7, Name: "emb", ModelType: entity.ModelTypeEmbedding, Dimensions: 4},
		&entity.Model{Id: 8, Name: "gpt-4o", ModelType: entity.ModelTypeGenerative, EndpointURL: "https://api.example.com/v1"},
	)
	vs := newStubVectorStore()

	retrieve, err := pipeline.NewRetrievePipeline(kbRepo, modelRepo, vs, stubEmbedFactory(4), 5)
	require.NoError(t, err)

	svc := NewGenerationService(kbRepo, modelRepo, retrieve, stubChatFactory(chat), t.TempDir(), sizeThreshold, 30)
	return &genFixture{kbRepo: kbRepo, modelRepo: modelRepo, vs: vs, chat: chat, svc: svc}
}

func sourceFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGenerationService_SmallSourceFullRead(t *testing.T) {
	chat := &stubChatModel{replies: []string{"# Summary\n\nThis module parses things."}}
	fx := newGenFixture(t, chat, 100<<10)

	src := sourceFile(t, "parser.py", "class Parser:\n    def parse(self): pass\n")
	fx.kbRepo.put(&entity.KnowledgeBase{Id: 1, Name: "proj", Status: entity.KBStatusReady, SourceFilePath: src})

	r, err := fx.svc.GenerateSummary(context.Background(), 1, 8)
	require.NoError(t, err)

	assert.Equal(t, "proj - AI Summary", r.Name)
	assert.Equal(t, entity.KBTypeSummary, r.KBType)
	assert.Equal(t, entity.KBStatusNew, r.Status)
	require.NotNil(t, r.ParentId)
	assert.Equal(t, int64(1), *r.ParentId)
	assert.Contains(t, r.Description, "完整源代码")

	// 产物落盘且内容为模型输出
	bs, err := os.ReadFile(r.SourceFilePath)
	require.NoError(t, err)
	assert.Equal(t, "# Summary\n\nThis module parses things.", string(bs))
	assert.True(t, strings.HasSuffix(filepath.Base(r.SourceFilePath), ".md"))
	assert.Contains(t, filepath.Base(r.SourceFilePath), "parser_summary_kb_1_")

	// 小文件直读：提示词包含完整源代码
	require.Len(t, chat.users, 1)
	assert.Contains(t, chat.users[0], "class Parser:")
	require.Len(t, chat.systems, 1)
	assert.Equal(t, summarySystemPrompt, chat.systems[0])
}

func TestGenerationService_GraphInjection(t *testing.T) {
	chat := &stubChatModel{replies: []string{"summary with graph context"}}
	fx := newGenFixture(t, chat, 100<<10)

	src := sourceFile(t, "app.py", "def run(): pass\n")
	graphArtifact := sourceFile(t, "graph.json", `{"graph_dict":{"App":[["CALLS","run"]]}}`)

	fx.kbRepo.put(&entity.KnowledgeBase{Id: 1, Name: "proj", Status: entity.KBStatusReady, SourceFilePath: src})
	fx.kbRepo.put(&entity.KnowledgeBase{
		Id:             2,
		Name:           "proj - Knowledge Graph",
		KBType:         entity.KBTypeGraph,
		ParentId:       sql.NullInt64{Int64: 1, Valid: true},
		SourceFilePath: graphArtifact,
		Status:         entity.KBStatusReady,
	})

	_, err := fx.svc.GenerateSummary(context.Background(), 1, 8)
	require.NoError(t, err)

	// 已有图谱子库时，图谱 JSON 并入提示词
	require.Len(t, chat.users, 1)
	assert.Contains(t, chat.users[0], "[知识图谱]:")
	assert.Contains(t, chat.users[0], `"graph_dict"`)
	assert.Contains(t, chat.users[0], `["CALLS","run"]`)
}

func TestGenerationService_GraphThenSummary(t *testing.T) {
	// 先生成图谱子库，再生成摘要：摘要应自动拾取兄弟图谱产物
	chat := &stubChatModel{replies: []string{
		`[["Parser","INHERITS_FROM","Base"]]`,
		"# Summary informed by graph",
	}}
	kbRepo := newStubKBRepo()
	modelRepo := newStubModelRepo(
		&entity.Model{Id: 8, Name: "gpt-4o", ModelType: entity.ModelTypeGenerative, EndpointURL: "https://api.example.com/v1"},
	)

	src := sourceFile(t, "parser.py", "class Parser(Base): pass\n")
	kbRepo.put(&entity.KnowledgeBase{Id: 1, Name: "proj", Status: entity.KBStatusReady, SourceFilePath: src})

	kgSvc := NewKGService(kbRepo, modelRepo, extract.NewExtractor(t.TempDir()), stubChatFactory(chat), t.TempDir())
	graphChild, err := kgSvc.GenerateGraph(context.Background(), 1, 8)
	require.NoError(t, err)
	assert.Equal(t, entity.KBTypeGraph, graphChild.KBType)

	vs := newStubVectorStore()
	retrieve, err := pipeline.NewRetrievePipeline(kbRepo, modelRepo, vs, stubEmbedFactory(4), 5)
	require.NoError(t, err)
	genSvc := NewGenerationService(kbRepo, modelRepo, retrieve, stubChatFactory(chat), t.TempDir(), 100<<10, 30)

	summaryChild, err := genSvc.GenerateSummary(context.Background(), 1, 8)
	require.NoError(t, err)
	assert.Equal(t, entity.KBTypeSummary, summaryChild.KBType)

	// 第二次调用是摘要，提示词里带上了第一步落盘的图谱 JSON
	require.Len(t, chat.users, 2)
	assert.Contains(t, chat.users[1], "[知识图谱]:")
	assert.Contains(t, chat.users[1], `"graph_dict"`)
	assert.Contains(t, chat.users[1], "INHERITS_FROM")

	bs, err := os.ReadFile(summaryChild.SourceFilePath)
	require.NoError(t, err)
	assert.Equal(t, "# Summary informed by graph", string(bs))
}

func TestGenerationService_LargeSourceUsesRetrieval(t *testing.T) {
	chat := &stubChatModel{replies: []string{"retrieval-based summary"}}
	fx := newGenFixture(t, chat, 16) // 阈值压到 16 字节

	src := sourceFile(t, "big.py", strings.Repeat("print('line')\n", 10))
	fx.kbRepo.put(&entity.KnowledgeBase{
		Id:               1,
		Name:             "big proj",
		Status:           entity.KBStatusReady,
		SourceFilePath:   src,
		EmbeddingModelId: sql.NullInt64{Int64: 7, Valid: true},
	})
	fx.vs.hits["kb_1"] = []repository.VectorSearchHit{
		{ID: "a", Score: 0.9, Text: "representative chunk", MetadataJSON: `{"file_path":"big.py"}`},
	}

	r, err := fx.svc.GenerateSummary(context.Background(), 1, 8)
	require.NoError(t, err)
	assert.Contains(t, r.Description, "检索增强")

	require.Len(t, chat.users, 1)
	assert.Contains(t, chat.users[0], "representative chunk")
	// 大文件不直读全文
	assert.NotContains(t, chat.users[0], strings.Repeat("print('line')\n", 10))
}

func TestGenerationService_LargeSourceUnparsed(t *testing.T) {
	chat := &stubChatModel{}
	fx := newGenFixture(t, chat, 1)

	src := sourceFile(t, "big.py", "some content here")
	fx.kbRepo.put(&entity.KnowledgeBase{
		Id:               1,
		Name:             "big proj",
		Status:           entity.KBStatusReady,
		SourceFilePath:   src,
		EmbeddingModelId: sql.NullInt64{Int64: 7, Valid: true},
	})
	// 向量集合为空：检索不到任何内容

	_, err := fx.svc.GenerateSummary(context.Background(), 1, 8)
	requireCode(t, err, xerr.BadRequest)
}

func TestGenerationService_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("parent not found", func(t *testing.T) {
		fx := newGenFixture(t, &stubChatModel{}, 100<<10)
		_, err := fx.svc.GenerateSummary(ctx, 404, 8)
		requireCode(t, err, xerr.NotFound)
	})

	t.Run("no source file", func(t *testing.T) {
		fx := newGenFixture(t, &stubChatModel{}, 100<<10)
		fx.kbRepo.put(&entity.KnowledgeBase{Id: 1, Name: "empty", Status: entity.KBStatusNew})
		_, err := fx.svc.GenerateSummary(ctx, 1, 8)
		requireCode(t, err, xerr.BadRequest)
	})

	t.Run("embedding model rejected", func(t *testing.T) {
		fx := newGenFixture(t, &stubChatModel{}, 100<<10)
		src := sourceFile(t, "a.py", "pass")
		fx.kbRepo.put(&entity.KnowledgeBase{Id: 1, Name: "p", Status: entity.KBStatusReady, SourceFilePath: src})
		_, err := fx.svc.GenerateSummary(ctx, 1, 7)
		requireCode(t, err, xerr.BadRequest)
	})

	t.Run("empty model output", func(t *testing.T) {
		fx := newGenFixture(t, &stubChatModel{replies: []string{"   "}}, 100<<10)
		src := sourceFile(t, "a.py", "pass")
		fx.kbRepo.put(&entity.KnowledgeBase{Id: 1, Name: "p", Status: entity.KBStatusReady, SourceFilePath: src})
		_, err := fx.svc.GenerateSummary(ctx, 1, 8)
		requireCode(t, err, xerr.InternalServerError)
	})
}
