package models

import "storefront-svc/cart"

type AddCartItemRequest struct {
	ID string `json:"id" binding:"required"`
}

type UpdateCartItemRequest struct {
	Delta int `json:"delta" binding:"required"`
}

type CartResponse struct {
	Items           []cart.Item `json:"items"`
	Count           int         `json:"count"`
	Subtotal        int64       `json:"subtotal"`
	SubtotalDisplay string      `json:"subtotalDisplay"`
	Updated         *bool       `json:"updated,omitempty"`
}
