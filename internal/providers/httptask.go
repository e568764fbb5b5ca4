package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// TaskConfig configures the asynchronous media task client.
type TaskConfig struct {
	BaseURL         string
	APIKey          string
	PollInterval    time.Duration
	MaxWait         time.Duration
	RequestTimeout  time.Duration
	MaxResponseBody int64
}

const (
	defaultPollInterval    = 5 * time.Second
	defaultMaxWait         = 10 * time.Minute
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxResponseBody = 1 << 20
)

// Task kinds understood by the media gateway.
const (
	TaskImage  = "image"
	TaskVideo  = "video"
	TaskSpeech = "speech"
	TaskAvatar = "avatar"
)

// Remote task states.
const (
	taskQueued     = "queued"
	taskProcessing = "processing"
	taskSucceeded  = "succeeded"
	taskFailed     = "failed"
)

type taskRequest struct {
	Kind        string `json:"kind"`
	Model       string `json:"model"`
	Provider    string `json:"provider,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Text        string `json:"text,omitempty"`
	Duration    int    `json:"duration,omitempty"`
}

type taskResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TaskClient implements MediaGenerator against an HTTP gateway that accepts a
// generation task and is then polled until the task settles.
type TaskClient struct {
	config TaskConfig
	client *http.Client
	guard  *Guard
}

// NewTaskClient creates a task client. guard may be nil.
func NewTaskClient(cfg TaskConfig, guard *Guard) *TaskClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TaskClient{config: cfg, client: &http.Client{}, guard: guard}
}

// GenerateImage renders a still image.
func (c *TaskClient) GenerateImage(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	if req.Model == "" {
		req.Model, req.Provider = DefaultImageModel, DefaultImageProvider
	}
	return c.run(ctx, TaskImage, req)
}

// GenerateVideo renders a video clip.
func (c *TaskClient) GenerateVideo(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	if req.Model == "" {
		req.Model, req.Provider = DefaultVideoModel, DefaultVideoProvider
	}
	return c.run(ctx, TaskVideo, req)
}

// GenerateSpeech renders narration audio.
func (c *TaskClient) GenerateSpeech(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	if req.Model == "" {
		req.Model, req.Provider = "gemini-tts", "gemini"
	}
	return c.run(ctx, TaskSpeech, req)
}

// GenerateAvatar renders a talking-head video.
func (c *TaskClient) GenerateAvatar(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	if req.Model == "" {
		req.Model, req.Provider = "infinitetalk", "wavespeed"
	}
	return c.run(ctx, TaskAvatar, req)
}

func (c *TaskClient) run(ctx context.Context, kind string, req MediaRequest) (*MediaResult, error) {
	body := taskRequest{
		Kind:        kind,
		Model:       req.Model,
		Provider:    req.Provider,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		ImageURL:    req.ImageURL,
		AudioURL:    req.AudioURL,
		Voice:       req.Voice,
		Text:        req.Text,
		Duration:    req.Duration,
	}
	key := req.Provider
	if key == "" {
		key = "media"
	}

	var created taskResponse
	err := c.do(ctx, key, func(ctx context.Context) error {
		return c.send(ctx, http.MethodPost, "/v1/tasks", body, &created)
	})
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "%s task: gateway returned no task id", kind)
	}

	final, err := c.await(ctx, key, kind, created)
	if err != nil {
		return nil, err
	}
	return &MediaResult{
		URL:        final.URL,
		Model:      req.Model,
		Provider:   req.Provider,
		Cost:       ActualCost(req.Model, req.Provider),
		RetailCost: RetailCost(req.Model, req.Provider),
	}, nil
}

// await polls until the task settles, the context ends, or MaxWait passes.
func (c *TaskClient) await(ctx context.Context, key, kind string, task taskResponse) (*taskResponse, error) {
	deadline := time.Now().Add(c.config.MaxWait)
	path := "/v1/tasks/" + url.PathEscape(task.ID)
	for {
		switch task.Status {
		case taskSucceeded:
			if task.URL == "" {
				return nil, schema.NewErrorf(schema.ErrCodeProvider, "%s task %s: succeeded without a url", kind, task.ID)
			}
			return &task, nil
		case taskFailed:
			msg := task.Error
			if msg == "" {
				msg = "generation failed"
			}
			return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "%s task %s: %s", kind, task.ID, msg)
		}
		if time.Now().After(deadline) {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "%s task %s: still %s after %s", kind, task.ID, task.Status, c.config.MaxWait)
		}
		if err := sleep(ctx, c.config.PollInterval); err != nil {
			return nil, err
		}
		var next taskResponse
		err := c.do(ctx, key, func(ctx context.Context) error {
			return c.send(ctx, http.MethodGet, path, nil, &next)
		})
		if err != nil {
			return nil, err
		}
		if next.ID == "" {
			next.ID = task.ID
		}
		task = next
	}
}

func (c *TaskClient) do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if c.guard != nil {
		return c.guard.Do(ctx, key, fn)
	}
	return fn(ctx)
}

func (c *TaskClient) send(ctx context.Context, method, path string, in, out any) error {
	var bodyReader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return schema.NewError(schema.ErrCodeExecution, "media task: failed to marshal request").WithCause(err)
		}
		bodyReader = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "media task: failed to create request").WithCause(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeProvider, "media task: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBody))
	if err != nil {
		return schema.NewError(schema.ErrCodeProvider, "media task: failed to read response body").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		code := schema.ErrCodeNonRetryable
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = schema.ErrCodeProvider
		}
		return schema.NewErrorf(code, "media task: %s %s returned %d", method, path, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": truncate(string(data), 500)})
	}

	if err := json.Unmarshal(data, out); err != nil {
		return schema.NewError(schema.ErrCodeProvider, "media task: invalid JSON response").WithCause(err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ MediaGenerator = (*TaskClient)(nil)

// String describes the client for logs.
func (c *TaskClient) String() string {
	return fmt.Sprintf("TaskClient(%s)", c.config.BaseURL)
}
