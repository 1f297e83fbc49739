package service

import (
	"context"
	"fmt"
	"sync"

	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
	"KnowBase/internal/modules/kb/infrastructure/embedding"
	"KnowBase/internal/modules/kb/infrastructure/llm"
	"KnowBase/internal/modules/kb/infrastructure/pipeline"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// stubKBRepo 内存元数据仓储，保留 CAS 语义
type stubKBRepo struct {
	mu     sync.Mutex
	kbs    map[int64]*entity.KnowledgeBase
	nextID int64
}

func newStubKBRepo(kbs ...*entity.KnowledgeBase) *stubKBRepo {
	r := &stubKBRepo{kbs: map[int64]*entity.KnowledgeBase{}, nextID: 1}
	for _, kb := range kbs {
		r.put(kb)
	}
	return r
}

func (r *stubKBRepo) put(kb *entity.KnowledgeBase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kb.Id == 0 {
		kb.Id = r.nextID
	}
	if kb.Id >= r.nextID {
		r.nextID = kb.Id + 1
	}
	cp := *kb
	r.kbs[kb.Id] = &cp
}

func (r *stubKBRepo) snapshot(id int64) entity.KnowledgeBase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.kbs[id]
}

func (r *stubKBRepo) Create(_ context.Context, kb *entity.KnowledgeBase) error {
	r.put(kb)
	return nil
}

func (r *stubKBRepo) GetByID(_ context.Context, id int64) (*entity.KnowledgeBase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[id]
	if !ok {
		return nil, nil
	}
	cp := *kb
	return &cp, nil
}

func (r *stubKBRepo) List(_ context.Context) ([]entity.KnowledgeBase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.KnowledgeBase, 0, len(r.kbs))
	for _, kb := range r.kbs {
		out = append(out, *kb)
	}
	return out, nil
}

func (r *stubKBRepo) Update(_ context.Context, kb *entity.KnowledgeBase) error {
	r.put(kb)
	return nil
}

func (r *stubKBRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.kbs, id)
	return nil
}

func (r *stubKBRepo) FindChildByType(_ context.Context, parentID int64, kbType string) (*entity.KnowledgeBase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *entity.KnowledgeBase
	for _, kb := range r.kbs {
		if kb.ParentId.Valid && kb.ParentId.Int64 == parentID && kb.KBType == kbType {
			if found == nil || kb.Id > found.Id {
				found = kb
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (r *stubKBRepo) AttachSourceFile(_ context.Context, id int64, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[id]
	if !ok {
		return fmt.Errorf("kb %d not found", id)
	}
	kb.SourceFilePath = path
	kb.Status = entity.KBStatusError
	kb.ParsingStateJson = entity.ParsingState{Stage: entity.StageIdle}.JSON()
	kb.EmbeddingModelId.Valid = false
	return nil
}

func (r *stubKBRepo) BeginProcessing(_ context.Context, id int64, modelID int64, state entity.ParsingState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[id]
	if !ok {
		return false, nil
	}
	switch kb.Status {
	case entity.KBStatusNew, entity.KBStatusReady, entity.KBStatusError:
	default:
		return false, nil
	}
	kb.Status = entity.KBStatusProcessing
	kb.ParsingStateJson = state.JSON()
	kb.EmbeddingModelId.Int64 = modelID
	kb.EmbeddingModelId.Valid = true
	return true, nil
}

func (r *stubKBRepo) UpdateParsingStateIfProcessing(_ context.Context, id int64, state entity.ParsingState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[id]
	if !ok || kb.Status != entity.KBStatusProcessing {
		return false, nil
	}
	kb.ParsingStateJson = state.JSON()
	return true, nil
}

func (r *stubKBRepo) SetStatus(_ context.Context, id int64, status string, state entity.ParsingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[id]
	if !ok {
		return fmt.Errorf("kb %d not found", id)
	}
	kb.Status = status
	kb.ParsingStateJson = state.JSON()
	return nil
}

func (r *stubKBRepo) FinishProcessing(_ context.Context, id int64, state entity.ParsingState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[id]
	if !ok || kb.Status != entity.KBStatusProcessing {
		return false, nil
	}
	kb.Status = entity.KBStatusReady
	kb.ParsingStateJson = state.JSON()
	return true, nil
}

var _ repository.KnowledgeBaseRepository = (*stubKBRepo)(nil)

type stubModelRepo struct {
	mu     sync.Mutex
	models map[int64]*entity.Model
	nextID int64
}

func newStubModelRepo(models ...*entity.Model) *stubModelRepo {
	r := &stubModelRepo{models: map[int64]*entity.Model{}, nextID: 1}
	for _, m := range models {
		if m.Id >= r.nextID {
			r.nextID = m.Id + 1
		}
		r.models[m.Id] = m
	}
	return r
}

func (r *stubModelRepo) Create(_ context.Context, m *entity.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Id == 0 {
		m.Id = r.nextID
		r.nextID++
	}
	cp := *m
	r.models[m.Id] = &cp
	return nil
}

func (r *stubModelRepo) GetByID(_ context.Context, id int64) (*entity.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *stubModelRepo) List(_ context.Context) ([]entity.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, *m)
	}
	return out, nil
}

func (r *stubModelRepo) Update(_ context.Context, m *entity.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.models[m.Id] = &cp
	return nil
}

func (r *stubModelRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, id)
	return nil
}

var _ repository.ModelRepository = (*stubModelRepo)(nil)

type stubVectorStore struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string][]repository.VectorPoint
	hits        map[string][]repository.VectorSearchHit
	recreated   map[string]int
	dropped     []string
}

func newStubVectorStore() *stubVectorStore {
	return &stubVectorStore{
		collections: map[string]int{},
		points:      map[string][]repository.VectorPoint{},
		hits:        map[string][]repository.VectorSearchHit{},
		recreated:   map[string]int{},
	}
}

func (s *stubVectorStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *stubVectorStore) CreateCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = dim
	return nil
}

func (s *stubVectorStore) RecreateCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = dim
	s.points[name] = nil
	s.recreated[name] = dim
	return nil
}

func (s *stubVectorStore) GetCollectionDim(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dim, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("collection %s not found", name)
	}
	return dim, nil
}

func (s *stubVectorStore) Upsert(_ context.Context, name string, points []repository.VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[name] = append(s.points[name], points...)
	return nil
}

func (s *stubVectorStore) Search(_ context.Context, name string, _ []float32, _ int) ([]repository.VectorSearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[name], nil
}

func (s *stubVectorStore) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	s.dropped = append(s.dropped, name)
	return nil
}

var _ repository.VectorStore = (*stubVectorStore)(nil)

// stubChatModel 预置应答序列的生成模型，记录收到的消息
type stubChatModel struct {
	mu      sync.Mutex
	replies []string
	err     error

	systems []string
	users   []string
	idx     int
}

func (m *stubChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			m.systems = append(m.systems, msg.Content)
		case schema.User:
			m.users = append(m.users, msg.Content)
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	reply := ""
	if len(m.replies) > 0 {
		if m.idx < len(m.replies) {
			reply = m.replies[m.idx]
		} else {
			reply = m.replies[len(m.replies)-1]
		}
		m.idx++
	}
	return schema.AssistantMessage(reply, nil), nil
}

func (m *stubChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("stream not supported")
}

var _ model.BaseChatModel = (*stubChatModel)(nil)

func stubChatFactory(m *stubChatModel) ChatClientFactory {
	return func(_ context.Context, _ llm.ModelBinding) (*llm.ChatClient, error) {
		return llm.NewChatClientWithModel(m), nil
	}
}

func stubEmbedFactory(dim int) pipeline.EmbedClientFactory {
	return func(_ context.Context, binding embedding.ModelBinding, batchSize int) (*embedding.Client, error) {
		return embedding.NewClientWithEmbedder(embedding.NewMockEmbedder(dim), binding.Dimensions, batchSize), nil
	}
}
