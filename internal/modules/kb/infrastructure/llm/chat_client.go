package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	arkModel "github.com/cloudwego/eino-ext/components/model/ark"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ModelBinding 生成模型凭据，来自 models 表
type ModelBinding struct {
	Name        string
	EndpointURL string
	APIKey      string
}

// ChatClient 摘要/图谱生成所用的生成式模型客户端
type ChatClient struct {
	cm model.BaseChatModel
}

func NewChatClient(ctx context.Context, binding ModelBinding) (*ChatClient, error) {
	if strings.TrimSpace(binding.Name) == "" {
		return nil, fmt.Errorf("生成模型名为空")
	}

	var (
		cm  model.BaseChatModel
		err error
	)
	endpoint := strings.ToLower(binding.EndpointURL)
	if strings.Contains(endpoint, "volces") || strings.Contains(endpoint, "ark") {
		timeout := 2 * time.Minute
		cm, err = arkModel.NewChatModel(ctx, &arkModel.ChatModelConfig{
			APIKey:  binding.APIKey,
			Model:   binding.Name,
			BaseURL: strings.TrimSpace(binding.EndpointURL),
			Timeout: &timeout,
		})
	} else {
		cm, err = openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
			APIKey:  binding.APIKey,
			Model:   binding.Name,
			BaseURL: strings.TrimSpace(binding.EndpointURL),
			Timeout: 2 * time.Minute,
		})
	}
	if err != nil {
		return nil, err
	}
	return &ChatClient{cm: cm}, nil
}

// NewChatClientWithModel 直接注入底层模型，测试用
func NewChatClientWithModel(cm model.BaseChatModel) *ChatClient {
	return &ChatClient{cm: cm}
}

// Complete 单轮补全，返回模型文本输出
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	msgs := make([]*schema.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	msgs = append(msgs, schema.UserMessage(user))

	out, err := c.cm.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", fmt.Errorf("生成模型返回空响应")
	}
	return out.Content, nil
}
