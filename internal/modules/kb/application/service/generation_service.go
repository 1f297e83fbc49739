package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"KnowBase/internal/modules/kb/application/dto/respond"
	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/llm"
	"KnowBase/internal/modules/kb/infrastructure/pipeline"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"go.uber.org/zap"
)

const summaryArchitectureQuery = "这个项目的主要目的、核心组件以及组件之间的交互方式是什么？"

const summarySystemPrompt = "You are an expert senior software architect."

// GenerationService L2a 摘要生成：读取父库源内容（或对大源走检索增强），
// 调用生成模型产出 Markdown 总结，落盘后注册 l2a_summary 子库。
// 子库状态为 new，不自动触发解析。
type GenerationService interface {
	GenerateSummary(ctx context.Context, parentID int64, generationModelID int64) (*respond.KBRespond, error)
}

type generationServiceImpl struct {
	kbRepo    repository.KnowledgeBaseRepository
	modelRepo repository.ModelRepository
	retrieve  *pipeline.RetrievePipeline

	newChatClient ChatClientFactory

	summaryDir    string
	sizeThreshold int64
	summaryTopK   int
}

func NewGenerationService(
	kbRepo repository.KnowledgeBaseRepository,
	modelRepo repository.ModelRepository,
	retrieve *pipeline.RetrievePipeline,
	newChatClient ChatClientFactory,
	summaryDir string,
	sizeThreshold int64,
	summaryTopK int,
) GenerationService {
	if newChatClient == nil {
		newChatClient = func(ctx context.Context, binding llm.ModelBinding) (*llm.ChatClient, error) {
			return llm.NewChatClient(ctx, binding)
		}
	}
	if sizeThreshold <= 0 {
		sizeThreshold = 100 << 10
	}
	if summaryTopK <= 0 {
		summaryTopK = 30
	}
	return &generationServiceImpl{
		kbRepo:        kbRepo,
		modelRepo:     modelRepo,
		retrieve:      retrieve,
		newChatClient: newChatClient,
		summaryDir:    summaryDir,
		sizeThreshold: sizeThreshold,
		summaryTopK:   summaryTopK,
	}
}

func (s *generationServiceImpl) GenerateSummary(ctx context.Context, parentID int64, generationModelID int64) (*respond.KBRespond, error) {
	parent, err := s.kbRepo.GetByID(ctx, parentID)
	if err != nil {
		zlog.Error("query kb failed", zap.Int64("kb_id", parentID), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if parent == nil {
		return nil, xerr.New(xerr.NotFound, fmt.Sprintf("知识库 %d 不存在", parentID))
	}
	if strings.TrimSpace(parent.SourceFilePath) == "" {
		return nil, xerr.New(xerr.BadRequest, "父知识库未绑定源文件")
	}

	gm, err := s.modelRepo.GetByID(ctx, generationModelID)
	if err != nil {
		zlog.Error("query model failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if gm == nil || gm.ModelType != entity.ModelTypeGenerative {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("模型 %d 不是有效的生成模型", generationModelID))
	}
	if strings.TrimSpace(gm.EndpointURL) == "" {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("模型 %s 缺少端点", gm.Name))
	}

	info, err := os.Stat(parent.SourceFilePath)
	if err != nil {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("源文件不可读: %s", parent.SourceFilePath))
	}

	// 机会主义：若已有 L2b 图谱子库，把图谱内容并入提示词
	graphContent := s.lookupGraphContent(ctx, parentID)

	var (
		prompt   string
		strategy string
	)
	if info.Size() <= s.sizeThreshold {
		content, rerr := os.ReadFile(parent.SourceFilePath)
		if rerr != nil {
			return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("读取源文件失败: %v", rerr))
		}
		if !utf8.Valid(content) {
			return nil, xerr.New(xerr.BadRequest, "源文件不是 UTF-8 文本，无法直接摘要")
		}
		prompt = buildSummaryPrompt(filepath.Base(parent.SourceFilePath), string(content), graphContent)
		strategy = "完整源代码"
	} else {
		// 源文件过大：改用检索增强，取父库向量集合中的代表性片段
		res, rerr := s.retrieve.Retrieve(ctx, pipeline.RetrieveRequest{
			Query: summaryArchitectureQuery,
			KBIDs: []int64{parentID},
			TopK:  s.summaryTopK,
		})
		if rerr != nil {
			return nil, rerr
		}
		if res.IsEmpty {
			return nil, xerr.New(xerr.BadRequest, "父知识库尚未解析，无法检索增强摘要")
		}
		texts := make([]string, 0, len(res.Contexts))
		for _, c := range res.Contexts {
			texts = append(texts, fmt.Sprintf("// %s\n%s", c.FilePath, c.Text))
		}
		prompt = buildSummaryPrompt(filepath.Base(parent.SourceFilePath), strings.Join(texts, "\n\n---\n\n"), graphContent)
		strategy = "检索增强"
	}

	client, err := s.newChatClient(ctx, llm.ModelBinding{
		Name:        gm.Name,
		EndpointURL: gm.EndpointURL,
		APIKey:      gm.APIKey,
	})
	if err != nil {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("生成模型初始化失败: %v", err))
	}

	summary, err := client.Complete(ctx, summarySystemPrompt, prompt)
	if err != nil {
		zlog.Error("summary generation failed", zap.Int64("kb_id", parentID), zap.Error(err))
		return nil, xerr.New(xerr.InternalServerError, fmt.Sprintf("调用生成模型失败: %v", err))
	}
	if strings.TrimSpace(summary) == "" {
		return nil, xerr.New(xerr.InternalServerError, "生成模型返回了空摘要")
	}

	artifactPath, err := s.saveSummary(parent, summary)
	if err != nil {
		zlog.Error("save summary failed", zap.Int64("kb_id", parentID), zap.Error(err))
		return nil, xerr.ErrServerError
	}

	child := &entity.KnowledgeBase{
		Name:           fmt.Sprintf("%s - AI Summary", parent.Name),
		Description:    fmt.Sprintf("AI 生成的摘要（%s）。来源: %s，模型: %s", strategy, parent.Name, gm.Name),
		KBType:         entity.KBTypeSummary,
		ParentId:       sql.NullInt64{Int64: parent.Id, Valid: true},
		SourceFilePath: artifactPath,
		Status:         entity.KBStatusNew,
	}
	if err := s.kbRepo.Create(ctx, child); err != nil {
		zlog.Error("create summary child kb failed", zap.Int64("parent_id", parentID), zap.Error(err))
		return nil, xerr.ErrServerError
	}

	zlog.Info("summary generated",
		zap.Int64("parent_id", parentID),
		zap.Int64("child_id", child.Id),
		zap.String("strategy", strategy),
		zap.String("artifact", artifactPath),
	)
	return respond.KBFromEntity(child), nil
}

func (s *generationServiceImpl) lookupGraphContent(ctx context.Context, parentID int64) string {
	graphKB, err := s.kbRepo.FindChildByType(ctx, parentID, entity.KBTypeGraph)
	if err != nil {
		zlog.Warn("lookup graph child failed", zap.Int64("parent_id", parentID), zap.Error(err))
		return ""
	}
	if graphKB == nil || graphKB.SourceFilePath == "" {
		return ""
	}
	content, err := os.ReadFile(graphKB.SourceFilePath)
	if err != nil {
		zlog.Warn("read graph artifact failed", zap.String("path", graphKB.SourceFilePath), zap.Error(err))
		return ""
	}
	return string(content)
}

func (s *generationServiceImpl) saveSummary(parent *entity.KnowledgeBase, summary string) (string, error) {
	if err := os.MkdirAll(s.summaryDir, 0o755); err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(filepath.Base(parent.SourceFilePath), filepath.Ext(parent.SourceFilePath))
	ts := time.Now().UTC().Format("20060102150405")
	name := fmt.Sprintf("%s_summary_kb_%d_%s.md", stem, parent.Id, ts)
	path := filepath.Join(s.summaryDir, name)
	if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

func buildSummaryPrompt(sourceName, body, graphContent string) string {
	if graphContent != "" {
		return fmt.Sprintf(`您是一位资深软件架构专家。

为了帮助您理解，这里有一份从代码中提取的关键结构关系知识图谱 (JSON 格式)：
[知识图谱]:
%s

请结合上述的知识图谱和下面的完整源代码，撰写一份简洁的高层次 Markdown 总结。
总结应描述：
1. 该文件的主要目的或职责。
2. 定义的关键类、函数或组件。
3. 它们之间如何交互（如果适用）。
请仅返回 Markdown 格式的总结。

---
源代码 (%s):
---
%s`, graphContent, sourceName, body)
	}
	return fmt.Sprintf(`您是一位资深软件架构专家。您的任务是分析以下源代码，并以 Markdown 格式提供一份简洁的高层次总结。
总结应描述：
1. 该文件的主要目的或职责。
2. 定义的关键类、函数或组件。
3. 它们之间如何交互（如果适用）。
请仅返回 Markdown 格式的总结。
---
源代码 (%s):
---
%s`, sourceName, body)
}
