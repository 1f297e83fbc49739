package pipeline

import (
	"context"
	"fmt"
	"sync"

	"KnowBase/internal/modules/kb/domain/entity"
	"KnowBase/internal/modules/kb/domain/repository"
)

// fakeKBRepo 内存版元数据仓储，保留与 MySQL 实现一致的 CAS 语义
type fakeKBRepo struct {
	mu     sync.Mutex
	kbs    map[int64]*entity.KnowledgeBase
	nextID int64

	// stopAfterWrites > 0 时，完成这么多次进度写入后把 status 改走，
	// 模拟解析中途被取消
	stopAfterWrites int
	writes          []entity.ParsingState

	// updateErr 非 nil 时所有进度写入报错，模拟元数据库抖动
	updateErr error

	finishOK  bool
	setStatus []string
}

func newFakeKBRepo() *fakeKBRepo {
	return &fakeKBRepo{kbs: map[int64]*entity.KnowledgeBase{}, nextID: 1}
}

func (f *fakeKBRepo) put(kb *entity.KnowledgeBase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kb.Id == 0 {
		kb.Id = f.nextID
		f.nextID++
	} else if kb.Id >= f.nextID {
		f.nextID = kb.Id + 1
	}
	cp := *kb
	f.kbs[kb.Id] = &cp
}

func (f *fakeKBRepo) Create(_ context.Context, kb *entity.KnowledgeBase) error {
	f.put(kb)
	return nil
}

func (f *fakeKBRepo) GetByID(_ context.Context, id int64) (*entity.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return nil, nil
	}
	cp := *kb
	return &cp, nil
}

func (f *fakeKBRepo) List(_ context.Context) ([]entity.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.KnowledgeBase, 0, len(f.kbs))
	for _, kb := range f.kbs {
		out = append(out, *kb)
	}
	return out, nil
}

func (f *fakeKBRepo) Update(_ context.Context, kb *entity.KnowledgeBase) error {
	f.put(kb)
	return nil
}

func (f *fakeKBRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.kbs, id)
	return nil
}

func (f *fakeKBRepo) FindChildByType(_ context.Context, parentID int64, kbType string) (*entity.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *entity.KnowledgeBase
	for _, kb := range f.kbs {
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

func (f *fakeKBRepo) AttachSourceFile(_ context.Context, id int64, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return fmt.Errorf("kb %d not found", id)
	}
	kb.SourceFilePath = path
	kb.Status = entity.KBStatusError
	kb.ParsingStateJson = entity.ParsingState{Stage: entity.StageIdle}.JSON()
	kb.EmbeddingModelId.Valid = false
	return nil
}

func (f *fakeKBRepo) BeginProcessing(_ context.Context, id int64, modelID int64, state entity.ParsingState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
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

func (f *fakeKBRepo) UpdateParsingStateIfProcessing(_ context.Context, id int64, state entity.ParsingState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return false, f.updateErr
	}
	kb, ok := f.kbs[id]
	if !ok || kb.Status != entity.KBStatusProcessing {
		return false, nil
	}
	kb.ParsingStateJson = state.JSON()
	f.writes = append(f.writes, state)
	if f.stopAfterWrites > 0 && len(f.writes) >= f.stopAfterWrites {
		kb.Status = entity.KBStatusReady
		kb.ParsingStateJson = entity.ParsingState{Stage: entity.StageCancelled}.JSON()
	}
	return true, nil
}

func (f *fakeKBRepo) SetStatus(_ context.Context, id int64, status string, state entity.ParsingState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return fmt.Errorf("kb %d not found", id)
	}
	kb.Status = status
	kb.ParsingStateJson = state.JSON()
	f.setStatus = append(f.setStatus, status)
	return nil
}

func (f *fakeKBRepo) FinishProcessing(_ context.Context, id int64, state entity.ParsingState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok || kb.Status != entity.KBStatusProcessing {
		return false, nil
	}
	kb.Status = entity.KBStatusReady
	kb.ParsingStateJson = state.JSON()
	f.finishOK = true
	return true, nil
}

func (f *fakeKBRepo) snapshot(id int64) entity.KnowledgeBase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.kbs[id]
}

var _ repository.KnowledgeBaseRepository = (*fakeKBRepo)(nil)

type fakeModelRepo struct {
	mu     sync.Mutex
	models map[int64]*entity.Model
}

func newFakeModelRepo(models ...*entity.Model) *fakeModelRepo {
	f := &fakeModelRepo{models: map[int64]*entity.Model{}}
	for _, m := range models {
		f.models[m.Id] = m
	}
	return f
}

func (f *fakeModelRepo) Create(_ context.Context, m *entity.Model) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[m.Id] = m
	return nil
}

func (f *fakeModelRepo) GetByID(_ context.Context, id int64) (*entity.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.models[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeModelRepo) List(_ context.Context) ([]entity.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.Model, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeModelRepo) Update(_ context.Context, m *entity.Model) error {
	return f.Create(context.Background(), m)
}

func (f *fakeModelRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.models, id)
	return nil
}

var _ repository.ModelRepository = (*fakeModelRepo)(nil)

// fakeVectorStore 内存向量库，记录写入与重建动作，检索返回预置命中
type fakeVectorStore struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string][]repository.VectorPoint
	hits        map[string][]repository.VectorSearchHit
	searchErr   map[string]error
	recreated   map[string]int
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		collections: map[string]int{},
		points:      map[string][]repository.VectorPoint{},
		hits:        map[string][]repository.VectorSearchHit{},
		searchErr:   map[string]error{},
		recreated:   map[string]int{},
	}
}

func (f *fakeVectorStore) CollectionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeVectorStore) CreateCollection(_ context.Context, name string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = dim
	return nil
}

func (f *fakeVectorStore) RecreateCollection(_ context.Context, name string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = dim
	f.points[name] = nil
	f.recreated[name] = dim
	return nil
}

func (f *fakeVectorStore) GetCollectionDim(_ context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dim, ok := f.collections[name]
	if !ok {
		return 0, fmt.Errorf("collection %s not found", name)
	}
	return dim, nil
}

func (f *fakeVectorStore) Upsert(_ context.Context, name string, points []repository.VectorPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[name] = append(f.points[name], points...)
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, name string, _ []float32, _ int) ([]repository.VectorSearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.searchErr[name]; ok {
		return nil, err
	}
	return f.hits[name], nil
}

func (f *fakeVectorStore) DropCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	delete(f.points, name)
	return nil
}

func (f *fakeVectorStore) pointCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points[name])
}

var _ repository.VectorStore = (*fakeVectorStore)(nil)
