package request

type RagQueryRequest struct {
	Query            string  `json:"query"`
	KnowledgebaseIds []int64 `json:"knowledgebase_ids"`
	ModelId          int64   `json:"model_id"`
	TopK             int     `json:"top_k"`
}

type RagRetrieveRequest struct {
	Query            string  `json:"query"`
	KnowledgebaseIds []int64 `json:"knowledgebase_ids"`
	TopK             int     `json:"top_k"`
}
