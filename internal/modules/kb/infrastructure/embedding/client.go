package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"KnowBase/pkg/zlog"

	dashscopeEmbed "github.com/cloudwego/eino-ext/components/embedding/dashscope"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

// ModelBinding 一次解析/检索所绑定的嵌入模型凭据，来自 models 表
type ModelBinding struct {
	Name        string
	EndpointURL string
	APIKey      string
	Dimensions  int
}

// Client 批量嵌入客户端。底层复用 eino 的 Embedder 抽象，按凭据的
// endpoint 选择 dashscope 或 openai 兼容实现。
type Client struct {
	embedder  embedding.Embedder
	dim       int
	batchSize int
}

func NewClient(ctx context.Context, binding ModelBinding, batchSize int) (*Client, error) {
	if strings.TrimSpace(binding.Name) == "" {
		return nil, fmt.Errorf("嵌入模型名为空")
	}

	// Dimensions == 0 表示由提供方在调用时决定维度，不下发 dimensions 参数
	var dimPtr *int
	if binding.Dimensions > 0 {
		localDim := binding.Dimensions
		dimPtr = &localDim
	}

	var (
		em  embedding.Embedder
		err error
	)
	if strings.Contains(strings.ToLower(binding.EndpointURL), "dashscope") {
		em, err = dashscopeEmbed.NewEmbedder(ctx, &dashscopeEmbed.EmbeddingConfig{
			Model:      binding.Name,
			APIKey:     binding.APIKey,
			Dimensions: dimPtr,
		})
	} else {
		em, err = openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			APIKey:     binding.APIKey,
			Model:      binding.Name,
			BaseURL:    strings.TrimSpace(binding.EndpointURL),
			Timeout:    60 * time.Second,
			Dimensions: dimPtr,
		})
	}
	if err != nil {
		return nil, classify(err)
	}
	return NewClientWithEmbedder(em, binding.Dimensions, batchSize), nil
}

// NewClientWithEmbedder 直接注入 Embedder，测试与 mock 场景用
func NewClientWithEmbedder(em embedding.Embedder, dim, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Client{embedder: em, dim: dim, batchSize: batchSize}
}

func (c *Client) Dim() int { return c.dim }

// BatchCount 返回 texts 会被拆成多少批
func (c *Client) BatchCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + c.batchSize - 1) / c.batchSize
}

// EmbedBatches 分批嵌入全部文本。每完成一批调用 onBatch(done, total)，
// 回调返回 false 表示调用方要求停止（协作式取消），此时返回已完成的
// 部分与 nil 错误，由调用方自行判断 stopped。
//
// 返回向量数与输入文本数不一致视为提供方故障，立即失败。
func (c *Client) EmbedBatches(ctx context.Context, texts []string, onBatch func(done, total int) bool) ([][]float32, bool, error) {
	total := c.BatchCount(len(texts))
	out := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vecs, err := c.embedder.EmbedStrings(ctx, batch)
		if err != nil {
			return nil, false, classify(err)
		}
		if len(vecs) != len(batch) {
			return nil, false, &ProviderError{Err: fmt.Errorf("返回向量数 %d 与请求文本数 %d 不一致", len(vecs), len(batch))}
		}

		for _, v := range vecs {
			if c.dim > 0 && len(v) != c.dim {
				zlog.Warn("embedding dim differs from model declaration",
					zap.Int("got", len(v)), zap.Int("want", c.dim))
			}
			out = append(out, toFloat32(v))
		}

		done := i/c.batchSize + 1
		if onBatch != nil && !onBatch(done, total) {
			return out, true, nil
		}
	}
	return out, false, nil
}

// EmbedQuery 单条查询嵌入，检索路径用
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, classify(err)
	}
	if len(vecs) != 1 {
		return nil, &ProviderError{Err: fmt.Errorf("返回向量数 %d 与请求文本数 1 不一致", len(vecs))}
	}
	return toFloat32(vecs[0]), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(v[i])
	}
	return out
}
