package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	DefaultBaseURL    = "https://api.openai.com"
	DefaultTopicModel = "gpt-4"
	DefaultImageModel = "dall-e-3"
	DefaultImageSize  = "1024x1024"

	topicSystemPrompt = "You are a creative prompt battle topic generator. Generate a single interesting, creative, and challenging topic for participants to create AI art about. The topic should be specific enough to be interesting but open-ended enough to allow for creative interpretation. Return ONLY the topic, nothing else."
	topicUserPrompt   = "Generate a topic for the next round."
)

// OpenAI talks to the chat completions and image generation endpoints.
type OpenAI struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client

	topicModel string
	imageModel string
	imageSize  string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*OpenAI)

func WithBaseURL(u string) Option {
	return func(c *OpenAI) {
		if strings.TrimSpace(u) != "" {
			c.baseURL = strings.TrimRight(strings.TrimSpace(u), "/")
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *OpenAI) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithRetry allows up to max attempts for 5xx answers and transport errors. Default is 1.
func WithRetry(max int) Option {
	return func(c *OpenAI) { c.retryMax = max }
}

func WithModels(topic, image, size string) Option {
	return func(c *OpenAI) {
		if topic != "" {
			c.topicModel = topic
		}
		if image != "" {
			c.imageModel = image
		}
		if size != "" {
			c.imageSize = size
		}
	}
}

// WithHTTPClient replaces the fasthttp client, e.g. to dial an in-memory listener.
func WithHTTPClient(h *fasthttp.Client) Option {
	return func(c *OpenAI) { c.http = h }
}

func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	c := &OpenAI{
		baseURL:        DefaultBaseURL,
		apiKey:         strings.TrimSpace(apiKey),
		http:           &fasthttp.Client{ReadTimeout: 90 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		topicModel:     DefaultTopicModel,
		imageModel:     DefaultImageModel,
		imageSize:      DefaultImageSize,
		defaultTimeout: 60 * time.Second,
		retryMax:       1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
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
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateTopic asks the chat model for one round topic.
func (c *OpenAI) GenerateTopic(ctx context.Context) (string, error) {
	req := chatRequest{
		Model: c.topicModel,
		Messages: []chatMessage{
			{Role: "system", Content: topicSystemPrompt},
			{Role: "user", Content: topicUserPrompt},
		},
		Temperature: 1,
		MaxTokens:   50,
	}
	var resp chatResponse
	if err := c.doJSON(ctx, "topic", "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return FallbackTopic, nil
	}
	topic := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if topic == "" {
		return FallbackTopic, nil
	}
	return topic, nil
}

// GenerateImage renders prompt and returns the hosted image URL.
func (c *OpenAI) GenerateImage(ctx context.Context, prompt string) (string, error) {
	req := imageRequest{Model: c.imageModel, Prompt: prompt, N: 1, Size: c.imageSize}
	var resp imageResponse
	if err := c.doJSON(ctx, "image", "/v1/images/generations", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return "", &GenerationError{Op: "image", Msg: "no image URL received"}
	}
	return resp.Data[0].URL, nil
}

func (c *OpenAI) doJSON(ctx context.Context, op, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return &GenerationError{Op: op, Msg: "marshal request", Err: err}
	}
	req.SetBody(payload)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &GenerationError{Op: op, Err: err}
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = &GenerationError{Op: op, Msg: "request failed", Err: err}
			if attempt == attempts || c.sleepWithContext(ctx, backoffDuration(attempt)) != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = &GenerationError{Op: op, Status: status, Msg: errorMessage(resp.Body())}
			if attempt == attempts || !shouldRetryStatus(status) || c.sleepWithContext(ctx, backoffDuration(attempt)) != nil {
				return lastErr
			}
			continue
		}

		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return &GenerationError{Op: op, Msg: "decode response", Err: err}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = &GenerationError{Op: op, Err: errors.New("unknown error")}
	}
	return lastErr
}

// errorMessage extracts the API's error message, or a truncated body.
func errorMessage(body []byte) string {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		return ae.Error.Message
	}
	return truncate(string(body), 512)
}

func (c *OpenAI) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *OpenAI) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Generator = (*OpenAI)(nil)

// String is safe to log; it never includes the key.
func (c *OpenAI) String() string {
	return fmt.Sprintf("openai(%s, topic=%s, image=%s)", c.baseURL, c.topicModel, c.imageModel)
}
