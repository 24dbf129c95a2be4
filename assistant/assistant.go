// Package assistant is the product recommendation chat. It calls the Gemini
// generateContent API with a system instruction built from the catalog.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"storefront-svc/catalog"
	"storefront-svc/models"
)

const (
	geminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta/models"
	geminiMaxRetries = 3
	geminiInitDelay  = 500 * time.Millisecond
	maxHistoryTurns  = 20
)

// Canned replies used when the model cannot be reached.
const (
	UnavailableText = "The assistant is not available right now. Browse the catalog or reach out to our support team."
	OfflineText     = "I'm currently offline. Please try again later."
	EmptyReplyText  = "I apologize, I'm having trouble connecting to my knowledge base right now."
)

const systemInstructionTemplate = `You are "Mind", the intelligent concierge for MindCraft, a digital store for personal growth tools.
Your goal is to help users find the perfect product for their self-improvement needs.

Here is our product catalog:
%s
Rules:
1. Be concise, empathetic, and professional. Tone: Sophisticated, intellectual, helpful.
2. If a user describes a problem (e.g., "I'm overwhelmed", "I can't focus"), recommend 1-2 specific products from the catalog that solve it.
3. Explain why you are recommending the product.
4. If the user asks about something unrelated to productivity, knowledge management, or our products, politely steer them back.
5. Do not invent products. Only recommend what is in the list.
6. Keep responses under 100 words unless detailed advice is requested.
`

var errEmptyCandidate = errors.New("gemini: empty response content")

type Reply struct {
	Text      string
	HTML      string
	Available bool
}

type Assistant struct {
	apiKey    string
	model     string
	baseURL   string
	client    *http.Client
	system    string
	markdown  goldmark.Markdown
	policy    *bluemonday.Policy
	initDelay time.Duration
	logger    *zap.Logger
}

// New returns an assistant. An empty apiKey yields one that always answers
// with UnavailableText and never calls out.
func New(apiKey, model string, cat *catalog.Catalog, logger *zap.Logger) *Assistant {
	return &Assistant{
		apiKey:    strings.TrimSpace(apiKey),
		model:     model,
		baseURL:   geminiBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		system:    fmt.Sprintf(systemInstructionTemplate, cat.PromptContext()),
		markdown:  goldmark.New(),
		policy:    bluemonday.UGCPolicy(),
		initDelay: geminiInitDelay,
		logger:    logger,
	}
}

func (a *Assistant) Available() bool {
	return a.apiKey != ""
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// Reply answers message in the context of history. Upstream failures are
// logged and turned into canned text; Reply itself never fails.
func (a *Assistant) Reply(ctx context.Context, history []models.ChatTurn, message string) Reply {
	if !a.Available() {
		return a.reply(UnavailableText, false)
	}

	text, err := a.generate(ctx, history, message)
	switch {
	case errors.Is(err, errEmptyCandidate):
		a.logger.Warn("Assistant returned no text")
		return a.reply(EmptyReplyText, true)
	case err != nil:
		a.logger.Error("Assistant request failed", zap.Error(err))
		return a.reply(OfflineText, true)
	}
	return a.reply(text, true)
}

func (a *Assistant) reply(text string, available bool) Reply {
	return Reply{Text: text, HTML: a.RenderHTML(text), Available: available}
}

// RenderHTML converts markdown to sanitised HTML. On a conversion error the
// escaped text is returned inside a paragraph.
func (a *Assistant) RenderHTML(text string) string {
	var buf bytes.Buffer
	if err := a.markdown.Convert([]byte(text), &buf); err != nil {
		return "<p>" + a.policy.Sanitize(text) + "</p>"
	}
	return a.policy.Sanitize(buf.String())
}

func (a *Assistant) generate(ctx context.Context, history []models.ChatTurn, message string) (string, error) {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	req := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: a.system}}},
	}
	for _, turn := range history {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		req.Contents = append(req.Contents, geminiContent{Role: turn.Role, Parts: []geminiPart{{Text: turn.Text}}})
	}
	req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: message}}})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s:generateContent", a.baseURL, a.model)

	var lastErr error
	for attempt := 0; attempt < geminiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * a.initDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("x-goog-api-key", a.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if ctx.Err() != nil {
				return "", lastErr
			}
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, string(respBody))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return "", lastErr
		}

		var apiResp geminiResponse
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(apiResp.Candidates) == 0 {
			return "", errEmptyCandidate
		}

		var sb strings.Builder
		for _, part := range apiResp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			return "", errEmptyCandidate
		}
		return text, nil
	}

	return "", fmt.Errorf("max retries (%d) exceeded: %w", geminiMaxRetries, lastErr)
}
