package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"KnowBase/pkg/zlog"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// 遍历时整体跳过的目录
var skipDirs = map[string]struct{}{
	"node_modules": {},
	"__pycache__":  {},
	"venv":         {},
	".venv":        {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
	"target":       {},
}

// DirectoryLoader 递归读取解包目录下的文本文件，产出带 file_path 元数据的文档。
// 隐藏文件、依赖目录与非 UTF-8 内容不进入语料。
type DirectoryLoader struct {
	MaxFileBytes int64
}

func NewDirectoryLoader() *DirectoryLoader {
	return &DirectoryLoader{MaxFileBytes: 10 << 20}
}

// Load 返回目录下全部可读文本文档。单个文件读取失败只告警，不中断整体加载。
func (l *DirectoryLoader) Load(ctx context.Context, root string) ([]*schema.Document, error) {
	var docs []*schema.Document

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if d.IsDir() {
			if path != root {
				if strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if _, ok := skipDirs[name]; ok {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if l.MaxFileBytes > 0 && info.Size() > l.MaxFileBytes {
			zlog.Warn("skip oversized file", zap.String("path", path), zap.Int64("size", info.Size()))
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			zlog.Warn("read file failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !utf8.Valid(content) {
			return nil
		}
		text := string(content)
		if strings.TrimSpace(text) == "" {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		docs = append(docs, &schema.Document{
			Content: text,
			MetaData: map[string]any{
				"file_path": filepath.ToSlash(rel),
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历目录失败: %w", err)
	}

	return docs, nil
}
