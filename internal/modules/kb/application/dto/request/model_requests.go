package request

type CreateModelRequest struct {
	Name        string `json:"name"`
	ModelType   string `json:"model_type"`
	EndpointURL string `json:"endpoint_url"`
	APIKey      string `json:"api_key"`
	Dimensions  int    `json:"dimensions"`
}

type UpdateModelRequest struct {
	Name        string `json:"name"`
	ModelType   string `json:"model_type"`
	EndpointURL string `json:"endpoint_url"`
	APIKey      string `json:"api_key"`
	Dimensions  int    `json:"dimensions"`
}
