package dto

import "cartsync/internal/domain"

type AddToCartRequest struct {
	VehicleID       string `json:"vehicleId"`
	ConfigurationID string `json:"configurationId"`
	Quantity        int    `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type PromotionalCodeRequest struct {
	Code string `json:"code"`
}

// CartEnvelope is the body of every upstream mutation response.
type CartEnvelope struct {
	Cart *domain.Cart `json:"cart"`
}

type UpstreamErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
