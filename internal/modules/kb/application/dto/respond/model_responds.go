package respond

import "KnowBase/internal/modules/kb/domain/entity"

// ModelRespond 不回传 api_key，凭据只进不出
type ModelRespond struct {
	Id          int64  `json:"id"`
	Name        string `json:"name"`
	ModelType   string `json:"model_type"`
	EndpointURL string `json:"endpoint_url"`
	Dimensions  int    `json:"dimensions"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func ModelFromEntity(m *entity.Model) *ModelRespond {
	if m == nil {
		return nil
	}
	return &ModelRespond{
		Id:          m.Id,
		Name:        m.Name,
		ModelType:   m.ModelType,
		EndpointURL: m.EndpointURL,
		Dimensions:  m.Dimensions,
		CreatedAt:   m.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:   m.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

func ModelListFromEntities(ms []entity.Model) []ModelRespond {
	out := make([]ModelRespond, 0, len(ms))
	for i := range ms {
		out = append(out, *ModelFromEntity(&ms[i]))
	}
	return out
}
