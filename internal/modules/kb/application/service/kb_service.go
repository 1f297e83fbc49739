package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"KnowBase/internal/modules/kb/application/dto/request"
	"KnowBase/internal/modules/kb/application/dto/respond"
	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/pipeline"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"go.uber.org/zap"
)

type KBService interface {
	Create(ctx context.Context, req request.CreateKBRequest) (*respond.KBRespond, error)
	Get(ctx context.Context, id int64) (*respond.KBRespond, error)
	List(ctx context.Context) ([]respond.KBRespond, error)
	Update(ctx context.Context, id int64, req request.UpdateKBRequest) (*respond.KBRespond, error)
	Delete(ctx context.Context, id int64) error

	AttachSourceFile(ctx context.Context, id int64, path string) (*respond.KBRespond, error)
	StartParsing(ctx context.Context, id int64, req request.StartParsingRequest) (*respond.KBRespond, error)
	CancelParsing(ctx context.Context, id int64) (*respond.KBRespond, error)
}

type kbServiceImpl struct {
	kbRepo    repository.KnowledgeBaseRepository
	modelRepo repository.ModelRepository
	vs        repository.VectorStore
	ingest    *pipeline.IngestPipeline
}

func NewKBService(
	kbRepo repository.KnowledgeBaseRepository,
	modelRepo repository.ModelRepository,
	vs repository.VectorStore,
	ingest *pipeline.IngestPipeline,
) KBService {
	return &kbServiceImpl{kbRepo: kbRepo, modelRepo: modelRepo, vs: vs, ingest: ingest}
}

func (s *kbServiceImpl) Create(ctx context.Context, req request.CreateKBRequest) (*respond.KBRespond, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, xerr.New(xerr.BadRequest, "知识库名称不能为空")
	}
	kbType := strings.TrimSpace(req.KBType)
	if kbType == "" {
		kbType = entity.KBTypePrimary
	}
	switch kbType {
	case entity.KBTypePrimary, entity.KBTypeSummary, entity.KBTypeGraph:
	default:
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("未知的知识库类型: %s", kbType))
	}

	kb := &entity.KnowledgeBase{
		Name:        name,
		Description: req.Description,
		KBType:      kbType,
		Status:      entity.KBStatusNew,
	}
	if req.ParentId != nil {
		parent, err := s.kbRepo.GetByID(ctx, *req.ParentId)
		if err != nil {
			zlog.Error("query parent kb failed", zap.Error(err))
			return nil, xerr.ErrServerError
		}
		if parent == nil {
			return nil, xerr.New(xerr.NotFound, fmt.Sprintf("父知识库 %d 不存在", *req.ParentId))
		}
		kb.ParentId = sql.NullInt64{Int64: *req.ParentId, Valid: true}
	}

	if err := s.kbRepo.Create(ctx, kb); err != nil {
		zlog.Error("create kb failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return respond.KBFromEntity(kb), nil
}

func (s *kbServiceImpl) Get(ctx context.Context, id int64) (*respond.KBRespond, error) {
	kb, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	return respond.KBFromEntity(kb), nil
}

func (s *kbServiceImpl) List(ctx context.Context) ([]respond.KBRespond, error) {
	kbs, err := s.kbRepo.List(ctx)
	if err != nil {
		zlog.Error("list kbs failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return respond.KBListFromEntities(kbs), nil
}

func (s *kbServiceImpl) Update(ctx context.Context, id int64, req request.UpdateKBRequest) (*respond.KBRespond, error) {
	kb, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		kb.Name = name
	}
	if req.Description != "" {
		kb.Description = req.Description
	}
	if err := s.kbRepo.Update(ctx, kb); err != nil {
		zlog.Error("update kb failed", zap.Int64("kb_id", id), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return respond.KBFromEntity(kb), nil
}

// Delete 删除元数据，并尽力清理向量集合与源文件。清理失败不阻塞删除。
func (s *kbServiceImpl) Delete(ctx context.Context, id int64) error {
	kb, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if kb.Status == entity.KBStatusProcessing {
		return xerr.New(xerr.Conflict, "知识库正在解析中，请先取消解析")
	}

	if err := s.vs.DropCollection(ctx, kb.CollectionName()); err != nil {
		zlog.Warn("drop collection failed", zap.String("collection", kb.CollectionName()), zap.Error(err))
	}
	if kb.SourceFilePath != "" {
		if err := os.Remove(kb.SourceFilePath); err != nil && !os.IsNotExist(err) {
			zlog.Warn("remove source file failed", zap.String("path", kb.SourceFilePath), zap.Error(err))
		}
	}

	if err := s.kbRepo.Delete(ctx, id); err != nil {
		zlog.Error("delete kb failed", zap.Int64("kb_id", id), zap.Error(err))
		return xerr.ErrServerError
	}
	return nil
}

func (s *kbServiceImpl) AttachSourceFile(ctx context.Context, id int64, path string) (*respond.KBRespond, error) {
	kb, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if kb.Status == entity.KBStatusProcessing {
		return nil, xerr.New(xerr.Conflict, "知识库正在解析中，不能更换源文件")
	}
	if err := s.kbRepo.AttachSourceFile(ctx, id, path); err != nil {
		zlog.Error("attach source file failed", zap.Int64("kb_id", id), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return s.Get(ctx, id)
}

// StartParsing 校验、集合对账、CAS 占锁，然后以分离 goroutine 启动流水线。
// 请求立即返回 processing 快照，进度经 parsing_state 轮询。
func (s *kbServiceImpl) StartParsing(ctx context.Context, id int64, req request.StartParsingRequest) (*respond.KBRespond, error) {
	kb, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(kb.SourceFilePath) == "" {
		return nil, xerr.New(xerr.BadRequest, "知识库未绑定源文件")
	}
	if _, err := os.Stat(kb.SourceFilePath); err != nil {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("源文件不可读: %s", kb.SourceFilePath))
	}

	m, err := s.modelRepo.GetByID(ctx, req.EmbeddingModelId)
	if err != nil {
		zlog.Error("query model failed", zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if m == nil {
		return nil, xerr.New(xerr.NotFound, fmt.Sprintf("模型 %d 不存在", req.EmbeddingModelId))
	}
	if m.ModelType != entity.ModelTypeEmbedding {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("模型 %s 不是嵌入模型", m.Name))
	}
	if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.EndpointURL) == "" {
		return nil, xerr.New(xerr.BadRequest, "嵌入模型缺少名称或端点")
	}

	// 维度已声明时先对账集合；未声明维度由流水线按首批向量懒建
	if m.Dimensions > 0 {
		if err := s.reconcileCollection(ctx, kb, m.Dimensions); err != nil {
			zlog.Error("reconcile collection failed", zap.Int64("kb_id", id), zap.Error(err))
			return nil, xerr.ErrServerError
		}
	}

	pending := entity.ParsingState{Stage: entity.StagePending, Progress: 0, Message: "等待解析"}
	won, err := s.kbRepo.BeginProcessing(ctx, id, m.Id, pending)
	if err != nil {
		zlog.Error("begin processing failed", zap.Int64("kb_id", id), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if !won {
		return nil, xerr.New(xerr.Conflict, "知识库正在解析中")
	}

	kb.Status = entity.KBStatusProcessing
	kb.ParsingStateJson = pending.JSON()
	kb.EmbeddingModelId = sql.NullInt64{Int64: m.Id, Valid: true}

	// 分离执行：不继承请求生命周期，取消只经由状态检查点生效
	kbCopy := *kb
	modelCopy := *m
	go func() {
		if _, err := s.ingest.Run(context.Background(), pipeline.IngestRequest{KB: &kbCopy, Model: &modelCopy}); err != nil {
			zlog.Error("ingest pipeline failed", zap.Int64("kb_id", kbCopy.Id), zap.Error(err))
		}
	}()

	return respond.KBFromEntity(kb), nil
}

// reconcileCollection 声明维度下的集合对账：缺失则建，维度不一致则
// 破坏性重建（旧向量作废）
func (s *kbServiceImpl) reconcileCollection(ctx context.Context, kb *entity.KnowledgeBase, dim int) error {
	name := kb.CollectionName()
	exists, err := s.vs.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return s.vs.CreateCollection(ctx, name, dim)
	}
	gotDim, err := s.vs.GetCollectionDim(ctx, name)
	if err != nil {
		return err
	}
	if gotDim != dim {
		zlog.Warn("collection dim mismatch, recreating",
			zap.String("collection", name), zap.Int("got", gotDim), zap.Int("want", dim))
		return s.vs.RecreateCollection(ctx, name, dim)
	}
	return nil
}

// CancelParsing 协作式取消：只改状态，不打断进行中的外部调用。
// 流水线在下一个检查点发现 status 变化后自行停止。
func (s *kbServiceImpl) CancelParsing(ctx context.Context, id int64) (*respond.KBRespond, error) {
	kb, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if kb.Status != entity.KBStatusProcessing {
		zlog.Info("cancel ignored, kb not processing", zap.Int64("kb_id", id), zap.String("status", kb.Status))
		return respond.KBFromEntity(kb), nil
	}

	cancelled := entity.ParsingState{Stage: entity.StageCancelled, Progress: 0, Message: "解析已取消"}
	if err := s.kbRepo.SetStatus(ctx, id, entity.KBStatusReady, cancelled); err != nil {
		zlog.Error("cancel parsing failed", zap.Int64("kb_id", id), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	zlog.Info("kb parsing cancel requested", zap.Int64("kb_id", id))
	return s.Get(ctx, id)
}

func (s *kbServiceImpl) mustGet(ctx context.Context, id int64) (*entity.KnowledgeBase, error) {
	kb, err := s.kbRepo.GetByID(ctx, id)
	if err != nil {
		zlog.Error("query kb failed", zap.Int64("kb_id", id), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	if kb == nil {
		return nil, xerr.New(xerr.NotFound, fmt.Sprintf("知识库 %d 不存在", id))
	}
	return kb, nil
}
