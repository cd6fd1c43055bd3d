package models

// Requests for the engine HTTP endpoints.

type ListSimulationsRequest struct {
	State string `query:"state" json:"state" default:"all" validate:"oneof=all open closed"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type CloseSimulationRequest struct {
	ID    string  `param:"id" json:"id" validate:"required,max=64"`
	Price float64 `query:"price" json:"price" validate:"gte=0"`
}

type RetrainRequest struct {
	Async bool `query:"async" json:"async"`
}
