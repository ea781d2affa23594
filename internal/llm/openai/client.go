package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/bookrenamer/internal/common"
	"github.com/joseph-ayodele/bookrenamer/internal/llm"
)

// PingPrompt is the connectivity probe sent before a batch.
const PingPrompt = "Say OK"

var _ llm.Completer = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Completer against POST {base}/chat/completions.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
		ctx = common.WithRequestID(ctx, rid)
	}
	start := time.Now()

	if strings.TrimSpace(req.Model) == "" {
		return llm.Completion{}, common.NewAppError("LLM_ERROR", "model is required", common.ErrInvalidInput)
	}

	c.logger.Info("llm.complete.start",
		"req_id", rid,
		"batch_id", common.BatchIDFromContext(ctx),
		"model", req.Model,
		"max_tokens", req.MaxTokens,
		"prompt_len", len(req.Prompt),
	)

	body := chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, httpErr := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if httpErr != nil {
		c.logger.Error("llm.complete.http_error",
			"req_id", rid, "model", req.Model, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Completion{}, fmt.Errorf("openai http error: %w", httpErr)
	}

	if err := llm.ValidateCompletion(raw); err != nil {
		c.logger.Error("llm.complete.schema_validation_failed",
			"req_id", rid, "model", req.Model, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Completion{}, fmt.Errorf("malformed openai response: %w", err)
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Completion{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return llm.Completion{}, errors.New("no choices in openai response")
	}

	out := llm.Completion{
		TotalTokens: cc.Usage.TotalTokens,
		Model:       cc.Model,
	}
	if p := cc.Choices[0].Message.Content; p != nil {
		out.Text = strings.TrimSpace(*p)
	}
	if out.Model == "" {
		out.Model = req.Model
	}

	c.logger.Info("llm.complete.ok",
		"req_id", rid,
		"model", req.Model,
		"tokens", out.TotalTokens,
		"reply_len", len(out.Text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Ping sends the connectivity probe with the given model. A transport or protocol error
// means the service is unreachable; ok reports whether the reply contained "OK".
func (c *Client) Ping(ctx context.Context, model string) (reply string, ok bool, err error) {
	res, err := c.Complete(ctx, llm.CompletionRequest{Model: model, Prompt: PingPrompt, MaxTokens: 512})
	if err != nil {
		return "", false, common.NewAppError("LLM_UNREACHABLE", "connectivity check failed", errors.Join(common.ErrServiceUnreachable, err))
	}
	reply = llm.CleanReply(res.Text)
	return reply, strings.Contains(strings.ToUpper(reply), "OK"), nil
}
