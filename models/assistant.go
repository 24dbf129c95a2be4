package models

type ChatTurn struct {
	Role string `json:"role" binding:"required,oneof=user model"`
	Text string `json:"text"`
}

type ChatRequest struct {
	History []ChatTurn `json:"history" binding:"dive"`
	Message string     `json:"message" binding:"required,max=2000"`
}

type ChatResponse struct {
	Text      string `json:"text"`
	HTML      string `json:"html"`
	Available bool   `json:"available"`
}
