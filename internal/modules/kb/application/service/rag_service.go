package service

import (
	"context"
	"fmt"

	"KnowBase/internal/modules/kb/application/dto/request"
	"KnowBase/internal/modules/kb/application/dto/respond"
	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/llm"
	"KnowBase/internal/modules/kb/infrastructure/pipeline"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"go.uber.org/zap"
)

const noContextAnswer = "Sorry, I couldn't find any relevant context in the selected knowledge bases."

// ChatClientFactory 按模型凭据构造生成客户端，测试时注入 mock
type ChatClientFactory func(ctx context.Context, binding llm.ModelBinding) (*llm.ChatClient, error)

type RAGService interface {
	Query(ctx context.Context, req request.RagQueryRequest) (*respond.RagQueryRespond, error)
	Retrieve(ctx context.Context, req request.RagRetrieveRequest) (*respond.RagRetrieveRespond, error)
}

type ragServiceImpl struct {
	modelRepo repository.ModelRepository
	retrieve  *pipeline.RetrievePipeline

	newChatClient ChatClientFactory
}

func NewRAGService(modelRepo repository.ModelRepository, retrieve *pipeline.RetrievePipeline, newChatClient ChatClientFactory) RAGService {
	if newChatClient == nil {
		newChatClient = func(ctx context.Context, binding llm.ModelBinding) (*llm.ChatClient, error) {
			return llm.NewChatClient(ctx, binding)
		}
	}
	return &ragServiceImpl{modelRepo: modelRepo, retrieve: retrieve, newChatClient: newChatClient}
}

// Query 完整 RAG 链路：检索 -> 组装 metaprompt -> 生成。生成失败时
// 不丢弃已检索的上下文，把错误写进 answer 返回。
func (s *ragServiceImpl) Query(ctx context.Context, req request.RagQueryRequest) (*respond.RagQueryRespond, error) {
	gm, err := s.modelRepo.GetByID(ctx, req.ModelId)
	if err != nil {
		zlog.Error("query model failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if gm == nil || gm.ModelType != entity.ModelTypeGenerative {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("模型 %d 不是有效的生成模型", req.ModelId))
	}

	res, err := s.retrieve.Retrieve(ctx, pipeline.RetrieveRequest{
		Query: req.Query,
		KBIDs: req.KnowledgebaseIds,
		TopK:  req.TopK,
	})
	if err != nil {
		return nil, err
	}

	if res.IsEmpty {
		return &respond.RagQueryRespond{
			Answer:            noContextAnswer,
			RetrievedContexts: []pipeline.RetrievedContext{},
		}, nil
	}

	client, err := s.newChatClient(ctx, llm.ModelBinding{
		Name:        gm.Name,
		EndpointURL: gm.EndpointURL,
		APIKey:      gm.APIKey,
	})
	if err != nil {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("生成模型初始化失败: %v", err))
	}

	answer, err := client.Complete(ctx, "", res.Metaprompt)
	if err != nil {
		zlog.Error("generation failed", zap.Int64("model_id", gm.Id), zap.Error(err))
		return &respond.RagQueryRespond{
			Answer:            fmt.Sprintf("Error during answer generation: %v", err),
			RetrievedContexts: res.Contexts,
		}, nil
	}

	return &respond.RagQueryRespond{Answer: answer, RetrievedContexts: res.Contexts}, nil
}

// Retrieve 只检索与组装提示词，不调用生成模型
func (s *ragServiceImpl) Retrieve(ctx context.Context, req request.RagRetrieveRequest) (*respond.RagRetrieveRespond, error) {
	res, err := s.retrieve.Retrieve(ctx, pipeline.RetrieveRequest{
		Query: req.Query,
		KBIDs: req.KnowledgebaseIds,
		TopK:  req.TopK,
	})
	if err != nil {
		return nil, err
	}

	out := &respond.RagRetrieveRespond{
		EnhancedPrompt:    res.EnhancedPrompt,
		RetrievedContexts: res.Contexts,
	}
	if !res.IsEmpty {
		mp := res.Metaprompt
		out.Metaprompt = &mp
	}
	return out, nil
}
