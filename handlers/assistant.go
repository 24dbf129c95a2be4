package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"storefront-svc/assistant"
	"storefront-svc/middleware"
	"storefront-svc/models"
)

type Replier interface {
	Reply(ctx context.Context, history []models.ChatTurn, message string) assistant.Reply
}

type AssistantHandler struct {
	assistant Replier
}

func NewAssistantHandler(a Replier) *AssistantHandler {
	return &AssistantHandler{assistant: a}
}

func (h *AssistantHandler) Chat(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "AssistantChat")
	defer span.End()

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RecordAssistantRequest("invalid")
		respondError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	reply := h.assistant.Reply(ctx, req.History, req.Message)
	outcome := "answered"
	if !reply.Available {
		outcome = "unavailable"
	}
	middleware.RecordAssistantRequest(outcome)

	c.JSON(http.StatusOK, models.ChatResponse{
		Text:      reply.Text,
		HTML:      reply.HTML,
		Available: reply.Available,
	})
}
