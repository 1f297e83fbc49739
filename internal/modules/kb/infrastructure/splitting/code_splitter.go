package splitting

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// CodeSplitter 按行窗口切分源代码，保留行边界，避免把函数体从语句
// 中间劈开。窗口行数超长（单行极长的压缩文件等）时用 maxChars 兜底。
type CodeSplitter struct {
	MaxLines     int
	OverlapLines int
	MaxChars     int
}

func NewCodeSplitter(maxLines, overlapLines, maxChars int) (*CodeSplitter, error) {
	if maxLines <= 0 {
		return nil, fmt.Errorf("invalid maxLines: %d", maxLines)
	}
	if overlapLines < 0 || overlapLines >= maxLines {
		return nil, fmt.Errorf("invalid overlapLines: %d (maxLines=%d)", overlapLines, maxLines)
	}
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &CodeSplitter{MaxLines: maxLines, OverlapLines: overlapLines, MaxChars: maxChars}, nil
}

func (c *CodeSplitter) Kind() string { return KindCode }

func (c *CodeSplitter) Split(_ context.Context, doc *schema.Document) ([]*schema.Document, error) {
	text := doc.Content
	if strings.TrimSpace(text) == "" {
		return []*schema.Document{}, nil
	}

	lines := strings.Split(text, "\n")
	step := c.MaxLines - c.OverlapLines

	var out []*schema.Document
	for start := 0; start < len(lines); start += step {
		end := start + c.MaxLines
		if end > len(lines) {
			end = len(lines)
		}
		chunk := strings.Join(lines[start:end], "\n")
		for _, piece := range c.hardWrap(chunk) {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			out = append(out, &schema.Document{Content: piece})
		}
		if end == len(lines) {
			break
		}
	}
	return out, nil
}

// hardWrap 对超长块按字符数二次切分，按 rune 切，保证多字节字符完整
func (c *CodeSplitter) hardWrap(chunk string) []string {
	runes := []rune(chunk)
	if len(runes) <= c.MaxChars {
		return []string{chunk}
	}
	var parts []string
	for i := 0; i < len(runes); i += c.MaxChars {
		end := i + c.MaxChars
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}
