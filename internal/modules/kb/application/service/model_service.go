package service

import (
	"context"
	"fmt"
	"strings"

	"KnowBase/internal/modules/kb/application/dto/request"
	"KnowBase/internal/modules/kb/application/dto/respond"
	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"go.uber.org/zap"
)

type ModelService interface {
	Create(ctx context.Context, req request.CreateModelRequest) (*respond.ModelRespond, error)
	Get(ctx context.Context, id int64) (*respond.ModelRespond, error)
	List(ctx context.Context) ([]respond.ModelRespond, error)
	Update(ctx context.Context, id int64, req request.UpdateModelRequest) (*respond.ModelRespond, error)
	Delete(ctx context.Context, id int64) error
}

type modelServiceImpl struct {
	modelRepo repository.ModelRepository
}

func NewModelService(modelRepo repository.ModelRepository) ModelService {
	return &modelServiceImpl{modelRepo: modelRepo}
}

func validateModelType(t string) error {
	switch t {
	case entity.ModelTypeEmbedding, entity.ModelTypeGenerative:
		return nil
	default:
		return xerr.New(xerr.BadRequest, fmt.Sprintf("未知的模型类型: %s", t))
	}
}

func (s *modelServiceImpl) Create(ctx context.Context, req request.CreateModelRequest) (*respond.ModelRespond, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, xerr.New(xerr.BadRequest, "模型名称不能为空")
	}
	if err := validateModelType(req.ModelType); err != nil {
		return nil, err
	}
	if req.Dimensions < 0 {
		return nil, xerr.New(xerr.BadRequest, "维度不能为负数")
	}

	m := &entity.Model{
		Name:        name,
		ModelType:   req.ModelType,
		EndpointURL: strings.TrimSpace(req.EndpointURL),
		APIKey:      req.APIKey,
		Dimensions:  req.Dimensions,
	}
	if err := s.modelRepo.Create(ctx, m); err != nil {
		zlog.Error("create model failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return respond.ModelFromEntity(m), nil
}

func (s *modelServiceImpl) Get(ctx context.Context, id int64) (*respond.ModelRespond, error) {
	m, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	return respond.ModelFromEntity(m), nil
}

func (s *modelServiceImpl) List(ctx context.Context) ([]respond.ModelRespond, error) {
	ms, err := s.modelRepo.List(ctx)
	if err != nil {
		zlog.Error("list models failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return respond.ModelListFromEntities(ms), nil
}

func (s *modelServiceImpl) Update(ctx context.Context, id int64, req request.UpdateModelRequest) (*respond.ModelRespond, error) {
	m, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		m.Name = name
	}
	if req.ModelType != "" {
		if err := validateModelType(req.ModelType); err != nil {
			return nil, err
		}
		m.ModelType = req.ModelType
	}
	if req.EndpointURL != "" {
		m.EndpointURL = strings.TrimSpace(req.EndpointURL)
	}
	if req.APIKey != "" {
		m.APIKey = req.APIKey
	}
	if req.Dimensions > 0 {
		m.Dimensions = req.Dimensions
	}
	if err := s.modelRepo.Update(ctx, m); err != nil {
		zlog.Error("update model failed", zap.Int64("model_id", id), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return respond.ModelFromEntity(m), nil
}

func (s *modelServiceImpl) Delete(ctx context.Context, id int64) error {
	if _, err := s.mustGet(ctx, id); err != nil {
		return err
	}
	if err := s.modelRepo.Delete(ctx, id); err != nil {
		zlog.Error("delete model failed", zap.Int64("model_id", id), zap.Error(err))
		return xerr.ErrServerError
	}
	return nil
}

func (s *modelServiceImpl) mustGet(ctx context.Context, id int64) (*entity.Model, error) {
	m, err := s.modelRepo.GetByID(ctx, id)
	if err != nil {
		zlog.Error("query model failed", zap.Int64("model_id", id), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if m == nil {
		return nil, xerr.New(xerr.NotFound, fmt.Sprintf("模型 %d 不存在", id))
	}
	return m, nil
}
