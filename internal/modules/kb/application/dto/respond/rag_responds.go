package respond

import "KnowBase/internal/modules/kb/infrastructure/pipeline"

type RagQueryRespond struct {
	Answer            string                      `json:"answer"`
	RetrievedContexts []pipeline.RetrievedContext `json:"retrieved_contexts"`
}

type RagRetrieveRespond struct {
	EnhancedPrompt    string                      `json:"enhanced_prompt"`
	RetrievedContexts []pipeline.RetrievedContext `json:"retrieved_contexts"`
	Metaprompt        *string                     `json:"metaprompt"`
}
