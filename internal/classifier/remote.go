package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/apperr"
)

const (
	defaultEndpoint = "https://api.groq.com/openai/v1/chat/completions"
	defaultModel    = "gpt-4o-mini"
	maxTokens       = 300
	serviceName     = "classifier"
)

const systemPrompt = `You are an assistant that MUST answer only with JSON. Produce a JSON object with the exact shape: {"labels": [string], "priority": "High|Medium|Low", "suggestedAction": "Reply|Read|Archive|Ignore"}.

Allowed labels: Work, Personal, Finance, Urgent, Spam, Promotions, Social.
Return only valid JSON with those fields and no additional text.`

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Remote 调用 OpenAI 兼容的 chat completions 接口
// 不在内部重试，重试由调用方的 retry.Executor 负责
type Remote struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewRemote(endpoint, apiKey, model string, httpClient *http.Client) *Remote {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = defaultModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Remote{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Text *string `json:"text"`
	} `json:"choices"`
}

func (r *Remote) Classify(ctx context.Context, msg model.Message) (model.ClassificationResult, error) {
	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent(msg)},
		},
		Temperature: 0,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return model.ClassificationResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.ClassificationResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 5xx 可重试，4xx 终态；响应体可能含邮件内容，不返回
		_, _ = io.Copy(io.Discard, resp.Body)
		return model.ClassificationResult{}, &apperr.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	return parseResponse(raw)
}

func userContent(msg model.Message) string {
	return fmt.Sprintf("Subject: %s\nFrom: %s\nTo: %s\nDate: %s\n\nBody:\n%s",
		msg.Subject, msg.From, msg.To, msg.Date.Format(time.RFC1123Z), msg.Body)
}

// parseResponse 支持 chat completions（message.content / text）和直接返回 JSON 对象两种形式
func parseResponse(raw []byte) (model.ClassificationResult, error) {
	content := raw

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err == nil && len(chat.Choices) > 0 {
		choice := chat.Choices[0]
		switch {
		case choice.Message != nil:
			content = []byte(choice.Message.Content)
		case choice.Text != nil:
			content = []byte(*choice.Text)
		}
	}

	var result model.ClassificationResult
	if err := json.Unmarshal(content, &result); err != nil {
		match := jsonObjectPattern.Find(content)
		if match == nil {
			return model.ClassificationResult{}, &apperr.ClassifierError{Reason: "response did not contain JSON"}
		}
		if err := json.Unmarshal(match, &result); err != nil {
			return model.ClassificationResult{}, &apperr.ClassifierError{Reason: "failed to parse JSON from response", Err: err}
		}
	}

	if err := result.Validate(); err != nil {
		return model.ClassificationResult{}, &apperr.ClassifierError{Reason: "invalid classification shape", Err: err}
	}
	return result, nil
}
