package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"KnowBase/internal/modules/kb/domain/repository"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	vectorField = "vector"

	// content 字段的 varchar 上限。超长块写入前按此截断，
	// 超长部分只影响回显文本，不影响向量
	contentMaxLength = 8192
)

// MilvusStore 按知识库一集合的向量库实现。集合即时创建（解析启动时），
// 不依赖进程启动期的固定集合。
type MilvusStore struct {
	cli mclient.Client
}

var _ repository.VectorStore = (*MilvusStore)(nil)

func NewMilvusStore(cli mclient.Client) (*MilvusStore, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	return &MilvusStore{cli: cli}, nil
}

func (s *MilvusStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return s.cli.HasCollection(ctx, name)
}

// Ping 探活用，列集合是最轻的往返
func (s *MilvusStore) Ping(ctx context.Context) error {
	_, err := s.cli.ListCollections(ctx)
	return err
}

func (s *MilvusStore) CreateCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid vector dim: %d", dim)
	}
	schema := &entity.Schema{
		CollectionName: name,
		Description:    "KnowBase knowledge base vectors",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       vectorField,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", dim)},
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(contentMaxLength),
				},
			},
			{
				Name:     "metadata",
				DataType: entity.FieldTypeJSON,
			},
		},
	}

	if err := s.cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return err
	}

	idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
	if err != nil {
		return err
	}
	if err := s.cli.CreateIndex(ctx, name, vectorField, idx, false); err != nil {
		return err
	}
	return s.cli.LoadCollection(ctx, name, false)
}

// RecreateCollection 丢弃重建。维度不匹配时旧向量无法复用，只能作废。
func (s *MilvusStore) RecreateCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.cli.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if err := s.cli.DropCollection(ctx, name); err != nil {
			return err
		}
	}
	return s.CreateCollection(ctx, name, dim)
}

func (s *MilvusStore) GetCollectionDim(ctx context.Context, name string) (int, error) {
	coll, err := s.cli.DescribeCollection(ctx, name)
	if err != nil {
		return 0, err
	}
	if coll == nil || coll.Schema == nil {
		return 0, fmt.Errorf("collection %s has no schema", name)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != vectorField {
			continue
		}
		dimStr, ok := f.TypeParams[entity.TypeParamDim]
		if !ok {
			break
		}
		dim, err := strconv.Atoi(dimStr)
		if err != nil {
			return 0, fmt.Errorf("collection %s has invalid dim %q", name, dimStr)
		}
		return dim, nil
	}
	return 0, fmt.Errorf("collection %s has no vector field", name)
}

func (s *MilvusStore) Upsert(ctx context.Context, name string, points []repository.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	dim := len(points[0].Vector)
	ids := make([]string, 0, len(points))
	vectors := make([][]float32, 0, len(points))
	contents := make([]string, 0, len(points))
	metas := make([][]byte, 0, len(points))

	for _, p := range points {
		if p.ID == "" {
			return errors.New("upsert point missing ID")
		}
		if len(p.Vector) != dim {
			return fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", p.ID, len(p.Vector), dim)
		}
		m := p.MetadataJSON
		if m == "" {
			m = "{}"
		}
		ids = append(ids, p.ID)
		vectors = append(vectors, p.Vector)
		contents = append(contents, truncateContent(p.Text))
		metas = append(metas, []byte(m))
	}

	_, err := s.cli.Upsert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector(vectorField, dim, vectors),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnJSONBytes("metadata", metas),
	)
	return err
}

// truncateContent 按字节上限截断且不切断多字节字符
func truncateContent(s string) string {
	if len(s) <= contentMaxLength {
		return s
	}
	cut := contentMaxLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (s *MilvusStore) Search(ctx context.Context, name string, vector []float32, topK int) ([]repository.VectorSearchHit, error) {
	if topK <= 0 {
		topK = 5
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}

	res, err := s.cli.Search(
		ctx,
		name,
		nil,
		"",
		[]string{"content", "metadata"},
		[]entity.Vector{entity.FloatVector(vector)},
		vectorField,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return []repository.VectorSearchHit{}, nil
	}
	return parseSearchResult(res[0])
}

func (s *MilvusStore) DropCollection(ctx context.Context, name string) error {
	exists, err := s.cli.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return s.cli.DropCollection(ctx, name)
}

func parseSearchResult(sr mclient.SearchResult) ([]repository.VectorSearchHit, error) {
	if sr.Err != nil {
		return nil, sr.Err
	}
	hits := make([]repository.VectorSearchHit, 0, sr.ResultCount)

	idCol := sr.IDs
	contentCol := columnByName(sr.Fields, "content")
	metaCol := columnByName(sr.Fields, "metadata")

	for i := 0; i < sr.ResultCount; i++ {
		id, _ := idCol.GetAsString(i)
		score := float32(0)
		if i < len(sr.Scores) {
			score = sr.Scores[i]
		}

		h := repository.VectorSearchHit{ID: id, Score: score}
		if contentCol != nil {
			v, _ := contentCol.GetAsString(i)
			h.Text = v
		}
		if metaCol != nil {
			v, _ := metaCol.Get(i)
			if bs, ok := v.([]byte); ok {
				h.MetadataJSON = string(bs)
			}
		}
		hits = append(hits, h)
	}

	return hits, nil
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}
