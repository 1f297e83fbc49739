package request

type CreateKBRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	KBType      string `json:"kb_type"`
	ParentId    *int64 `json:"parent_id"`
}

type UpdateKBRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type StartParsingRequest struct {
	EmbeddingModelId int64 `json:"embedding_model_id"`
}

type GenerateSummaryRequest struct {
	GenerationModelId int64 `json:"generation_model_id"`
}

type GenerateGraphRequest struct {
	GenerationModelId int64 `json:"generation_model_id"`
}
