package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"KnowBase/internal/modules/kb/application/dto/respond"
	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/embedding"
	"KnowBase/internal/modules/kb/infrastructure/extract"
	"KnowBase/internal/modules/kb/infrastructure/graphstore"
	"KnowBase/internal/modules/kb/infrastructure/llm"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"go.uber.org/zap"
)

const kgSystemPrompt = "You are an expert code analyst that outputs JSON."

var kgSupportedExts = map[string]struct{}{
	".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {},
	".go": {}, ".java": {}, ".rs": {}, ".c": {}, ".h": {},
	".cpp": {}, ".hpp": {}, ".cxx": {}, ".hxx": {},
	".md": {}, ".markdown": {}, ".mdx": {},
}

var kgSkipDirs = map[string]struct{}{
	"venv":         {},
	".venv":        {},
	"node_modules": {},
	"__pycache__":  {},
	"vendor":       {},
}

// KGService L2b 知识图谱生成：逐文件让生成模型抽取 (主语, 谓语, 宾语)
// 三元组，汇总为图谱 JSON 落盘，注册 l2b_graph 子库。图谱子库直接置
// ready，其内容经文件注入消费，不走向量解析。
type KGService interface {
	GenerateGraph(ctx context.Context, parentID int64, generationModelID int64) (*respond.KBRespond, error)
}

type kgServiceImpl struct {
	kbRepo    repository.KnowledgeBaseRepository
	modelRepo repository.ModelRepository
	extractor *extract.Extractor

	newChatClient ChatClientFactory

	graphDir string
}

func NewKGService(
	kbRepo repository.KnowledgeBaseRepository,
	modelRepo repository.ModelRepository,
	extractor *extract.Extractor,
	newChatClient ChatClientFactory,
	graphDir string,
) KGService {
	if newChatClient == nil {
		newChatClient = func(ctx context.Context, binding llm.ModelBinding) (*llm.ChatClient, error) {
			return llm.NewChatClient(ctx, binding)
		}
	}
	return &kgServiceImpl{
		kbRepo:        kbRepo,
		modelRepo:     modelRepo,
		extractor:     extractor,
		newChatClient: newChatClient,
		graphDir:      graphDir,
	}
}

func (s *kgServiceImpl) GenerateGraph(ctx context.Context, parentID int64, generationModelID int64) (*respond.KBRespond, error) {
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

	files, cleanup, err := s.resolveFiles(parent.SourceFilePath)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	if len(files) == 0 {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("在 %s 中未找到可处理的源代码文件", parent.SourceFilePath))
	}
	zlog.Info("kg generation started", zap.Int64("kb_id", parentID), zap.Int("files", len(files)))

	client, err := s.newChatClient(ctx, llm.ModelBinding{
		Name:        gm.Name,
		EndpointURL: gm.EndpointURL,
		APIKey:      gm.APIKey,
	})
	if err != nil {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("生成模型初始化失败: %v", err))
	}

	graph := graphstore.NewTripletGraph()
	for i, filePath := range files {
		name := filepath.Base(filePath)
		content, rerr := os.ReadFile(filePath)
		if rerr != nil {
			zlog.Warn("skip file, read failed", zap.String("file", name), zap.Error(rerr))
			continue
		}
		if !utf8.Valid(content) {
			zlog.Warn("skip file, not utf-8", zap.String("file", name))
			continue
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}

		zlog.Info("kg processing file", zap.Int("index", i+1), zap.Int("total", len(files)), zap.String("file", name))

		raw, cerr := client.Complete(ctx, kgSystemPrompt, buildTripletPrompt(name, string(content)))
		if cerr != nil {
			// 连接类故障说明后续文件也不可能成功，整体中止
			if isConnectivityFailure(cerr) {
				zlog.Error("kg generation aborted, provider unreachable", zap.String("file", name), zap.Error(cerr))
				return nil, xerr.New(xerr.InternalServerError, fmt.Sprintf("调用生成模型失败: %v", cerr))
			}
			zlog.Warn("skip file, llm call failed", zap.String("file", name), zap.Error(cerr))
			continue
		}

		triplets, perr := parseTriplets(raw)
		if perr != nil {
			zlog.Warn("skip file, invalid triplet json", zap.String("file", name), zap.Error(perr))
			continue
		}
		for _, t := range triplets {
			graph.Upsert(t[0], t[1], t[2])
		}
	}

	if graph.Size() == 0 {
		return nil, xerr.New(xerr.InternalServerError, "未能从任何文件中提取三元组，无法构建图谱")
	}

	artifactPath, err := s.saveGraph(parent, graph)
	if err != nil {
		zlog.Error("save graph failed", zap.Int64("kb_id", parentID), zap.Error(err))
		return nil, xerr.ErrServerError
	}

	child := &entity.KnowledgeBase{
		Name:           fmt.Sprintf("%s - Knowledge Graph", parent.Name),
		Description:    fmt.Sprintf("AI 生成的知识图谱。来源: %s，模型: %s", parent.Name, gm.Name),
		KBType:         entity.KBTypeGraph,
		ParentId:       sql.NullInt64{Int64: parent.Id, Valid: true},
		SourceFilePath: artifactPath,
		Status:         entity.KBStatusReady,
		ParsingStateJson: entity.ParsingState{
			Stage:    entity.StageComplete,
			Progress: 100,
			Message:  fmt.Sprintf("图谱已生成，共 %d 条关系", graph.Size()),
		}.JSON(),
	}
	if err := s.kbRepo.Create(ctx, child); err != nil {
		zlog.Error("create graph child kb failed", zap.Int64("parent_id", parentID), zap.Error(err))
		return nil, xerr.ErrServerError
	}

	zlog.Info("graph generated",
		zap.Int64("parent_id", parentID),
		zap.Int64("child_id", child.Id),
		zap.Int("triplets", graph.Size()),
		zap.String("artifact", artifactPath),
	)
	return respond.KBFromEntity(child), nil
}

// resolveFiles 解析源路径为待处理文件列表：目录直接扫，归档解包到
// 临时目录后扫（返回清理函数），单文件原样处理
func (s *kgServiceImpl) resolveFiles(sourcePath string) ([]string, func(), error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, nil, xerr.New(xerr.BadRequest, fmt.Sprintf("源文件不可读: %s", sourcePath))
	}

	if info.IsDir() {
		files, err := findCodeFiles(sourcePath)
		return files, nil, err
	}
	if s.extractor.Supported(sourcePath) {
		dir, err := s.extractor.Extract(sourcePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if rerr := os.RemoveAll(dir); rerr != nil {
				zlog.Warn("cleanup kg temp dir failed", zap.String("dir", dir), zap.Error(rerr))
			}
		}
		files, err := findCodeFiles(dir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return files, cleanup, nil
	}
	return []string{sourcePath}, nil, nil
}

func findCodeFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root {
				if strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if _, ok := kgSkipDirs[name]; ok {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if _, ok := kgSupportedExts[strings.ToLower(filepath.Ext(name))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历目录失败: %w", err)
	}
	return files, nil
}

func (s *kgServiceImpl) saveGraph(parent *entity.KnowledgeBase, graph *graphstore.TripletGraph) (string, error) {
	if err := os.MkdirAll(s.graphDir, 0o755); err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(filepath.Base(parent.SourceFilePath), filepath.Ext(parent.SourceFilePath))
	ts := time.Now().UTC().Format("20060102150405")
	name := fmt.Sprintf("%s_graph_kb_%d_%s.json", stem, parent.Id, ts)
	path := filepath.Join(s.graphDir, name)

	bs, err := json.Marshal(graph)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, bs, 0o644); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

func buildTripletPrompt(sourceName, code string) string {
	return fmt.Sprintf(`You are an expert code analyst. Your task is to analyze the following source code and extract key relationships as (Subject, Predicate, Object) triplets.
Focus on:
- Class Inheritance (e.g., [ClassName, "INHERITS_FROM", ParentClassName])
- Function Calls (e.g., [FunctionName, "CALLS", CalledFunctionName])
- Class Instantiation (e.g., [FunctionName, "INSTANTIATES", ClassName])
Return your response as a valid JSON list of lists.
Example: [["ClassA", "INHERITS_FROM", "BaseClass"], ["func_x", "CALLS", "util_func"]]
Return ONLY the JSON list.
---
Source Code (%s):
---
%s`, sourceName, code)
}

// parseTriplets 解析模型输出为三元组列表。剥掉 markdown 代码围栏，
// 非列表、长度不为 3 的行丢弃。
func parseTriplets(raw string) ([][3]string, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	if cleaned == "" {
		return nil, fmt.Errorf("模型返回为空")
	}

	var rows [][]string
	if err := json.Unmarshal([]byte(cleaned), &rows); err != nil {
		return nil, fmt.Errorf("三元组 JSON 解析失败: %w", err)
	}

	out := make([][3]string, 0, len(rows))
	for _, r := range rows {
		if len(r) != 3 {
			zlog.Warn("malformed triplet skipped", zap.Strings("row", r))
			continue
		}
		out = append(out, [3]string{r[0], r[1], r[2]})
	}
	return out, nil
}

// isConnectivityFailure 判断 LLM 调用失败是否属于连接类故障
func isConnectivityFailure(err error) bool {
	if err == nil {
		return false
	}
	var connErr *embedding.ConnectivityError
	if errors.As(err, &connErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}
