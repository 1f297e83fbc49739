package respond

import "KnowBase/internal/modules/kb/domain/entity"

type KBRespond struct {
	Id               int64  `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	KBType           string `json:"kb_type"`
	ParentId         *int64 `json:"parent_id"`
	SourceFilePath   string `json:"source_file_path"`
	Status           string `json:"status"`
	ParsingStage     string `json:"parsing_stage"`
	ParsingProgress  int    `json:"parsing_progress"`
	ParsingMessage   string `json:"parsing_message,omitempty"`
	EmbeddingModelId *int64 `json:"embedding_model_id"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func KBFromEntity(kb *entity.KnowledgeBase) *KBRespond {
	if kb == nil {
		return nil
	}
	st := kb.ParsingState()
	r := &KBRespond{
		Id:              kb.Id,
		Name:            kb.Name,
		Description:     kb.Description,
		KBType:          kb.KBType,
		SourceFilePath:  kb.SourceFilePath,
		Status:          kb.Status,
		ParsingStage:    st.Stage,
		ParsingProgress: st.Progress,
		ParsingMessage:  st.Message,
		CreatedAt:       kb.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:       kb.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	if kb.ParentId.Valid {
		v := kb.ParentId.Int64
		r.ParentId = &v
	}
	if kb.EmbeddingModelId.Valid {
		v := kb.EmbeddingModelId.Int64
		r.EmbeddingModelId = &v
	}
	return r
}

func KBListFromEntities(kbs []entity.KnowledgeBase) []KBRespond {
	out := make([]KBRespond, 0, len(kbs))
	for i := range kbs {
		out = append(out, *KBFromEntity(&kbs[i]))
	}
	return out
}
