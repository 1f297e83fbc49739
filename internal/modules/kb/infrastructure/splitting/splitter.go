package splitting

import (
	"context"
	"path/filepath"
	"strings"

	"KnowBase/internal/config"
	"KnowBase/pkg/zlog"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/markdown"
	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// 切分器种类，写入块元数据便于排查
const (
	KindMarkdown = "markdown"
	KindCode     = "code"
	KindGeneric  = "generic"
)

var markdownExts = map[string]struct{}{
	".md":       {},
	".markdown": {},
	".mdx":      {},
}

var codeExts = map[string]struct{}{
	".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {},
	".go": {}, ".java": {}, ".rs": {}, ".c": {}, ".h": {},
	".cpp": {}, ".hpp": {}, ".cxx": {}, ".hxx": {},
}

// Splitter 把单个文档切成若干块，块继承原文档元数据
type Splitter interface {
	Kind() string
	Split(ctx context.Context, doc *schema.Document) ([]*schema.Document, error)
}

// Selector 按文件扩展名选择切分器。选择是全函数：任何输入都有切分器，
// 代码切分器初始化失败时退回通用切分器，绝不让单个文件卡死整个解析。
type Selector struct {
	markdown Splitter
	code     Splitter
	generic  Splitter
}

func NewSelector(ctx context.Context, cfg config.IngestConfig) (*Selector, error) {
	generic, err := newGenericSplitter(ctx, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	var md Splitter
	md, err = newMarkdownSplitter(ctx)
	if err != nil {
		// markdown 切分器不可用时降级，不影响整体可用性
		zlog.Warn("markdown splitter init failed, fallback to generic", zap.Error(err))
		md = generic
	}

	var code Splitter
	cs, err := NewCodeSplitter(cfg.CodeChunkLines, cfg.CodeChunkOverlap, cfg.CodeMaxChars)
	if err != nil {
		zlog.Warn("code splitter init failed, fallback to generic", zap.Error(err))
		code = generic
	} else {
		code = cs
	}

	return &Selector{markdown: md, code: code, generic: generic}, nil
}

// Select 根据文件路径返回切分器，未识别的扩展名走通用切分
func (s *Selector) Select(filePath string) Splitter {
	ext := strings.ToLower(filepath.Ext(filePath))
	if _, ok := markdownExts[ext]; ok {
		return s.markdown
	}
	if _, ok := codeExts[ext]; ok {
		return s.code
	}
	return s.generic
}

// SplitAll 对一批文档逐个选择切分器并切分，块带 chunk_index 与 splitter
// 元数据。单个文档切分失败只告警跳过。
func (s *Selector) SplitAll(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	out := make([]*schema.Document, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		filePath, _ := d.MetaData["file_path"].(string)
		sp := s.Select(filePath)
		chunks, err := sp.Split(ctx, d)
		if err != nil {
			zlog.Warn("split document failed", zap.String("file_path", filePath), zap.Error(err))
			continue
		}
		for i, c := range chunks {
			if c == nil || strings.TrimSpace(c.Content) == "" {
				continue
			}
			n := &schema.Document{Content: c.Content, MetaData: map[string]any{}}
			for k, v := range d.MetaData {
				n.MetaData[k] = v
			}
			n.MetaData["chunk_index"] = i
			n.MetaData["splitter"] = sp.Kind()
			out = append(out, n)
		}
	}
	return out, nil
}

// genericSplitter 递归字符切分，按 rune 计数，多字节字符不被截断
type genericSplitter struct {
	impl document.Transformer
}

func newGenericSplitter(ctx context.Context, size, overlap int) (*genericSplitter, error) {
	if size <= 0 {
		size = 1024
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	impl, err := recursive.NewSplitter(ctx, &recursive.Config{
		ChunkSize:   size,
		OverlapSize: overlap,
		Separators:  []string{"\n\n", "\n", "。", "！", "？", "；", "，", " "},
		LenFunc: func(s string) int {
			return len([]rune(s))
		},
		KeepType: recursive.KeepTypeEnd,
	})
	if err != nil {
		return nil, err
	}
	return &genericSplitter{impl: impl}, nil
}

func (g *genericSplitter) Kind() string { return KindGeneric }

func (g *genericSplitter) Split(ctx context.Context, doc *schema.Document) ([]*schema.Document, error) {
	return g.impl.Transform(ctx, []*schema.Document{{Content: doc.Content}})
}

// markdownSplitter 标题感知切分，保持章节边界完整
type markdownSplitter struct {
	impl document.Transformer
}

func newMarkdownSplitter(ctx context.Context) (*markdownSplitter, error) {
	impl, err := markdown.NewHeaderSplitter(ctx, &markdown.HeaderConfig{
		Headers: map[string]string{
			"#":   "h1",
			"##":  "h2",
			"###": "h3",
		},
		TrimHeaders: false,
	})
	if err != nil {
		return nil, err
	}
	return &markdownSplitter{impl: impl}, nil
}

func (m *markdownSplitter) Kind() string { return KindMarkdown }

func (m *markdownSplitter) Split(ctx context.Context, doc *schema.Document) ([]*schema.Document, error) {
	return m.impl.Transform(ctx, []*schema.Document{{Content: doc.Content}})
}
