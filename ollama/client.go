package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const DefaultBaseURL = "http://localhost:11434"

type Client struct {
	client  *api.Client
	baseURL string
}

// ChatCallback receives every response object of a chat call. For streaming
// calls each object carries one partial message; the last one has Done set.
type ChatCallback func(resp api.ChatResponse) error

// ChatOptions are the runtime options forwarded to the model.
type ChatOptions struct {
	Temperature *float64
	NumPredict  int
}

func (o ChatOptions) toMap() map[string]any {
	options := map[string]any{}
	if o.Temperature != nil {
		options["temperature"] = *o.Temperature
	}
	if o.NumPredict > 0 {
		options["num_predict"] = o.NumPredict
	}
	if len(options) == 0 {
		return nil
	}
	return options
}

func NewClient(baseURL string) (*Client, error) {
	return NewClientWithHTTP(baseURL, http.DefaultClient)
}

// NewClientWithHTTP is NewClient with an explicit HTTP client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Ollama URL: %q", baseURL)
	}

	return &Client{
		client:  api.NewClient(parsedURL, httpClient),
		baseURL: baseURL,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Chat sends a chat request for modelName. With stream set the callback is
// invoked once per chunk, otherwise once with the full reply.
func (c *Client) Chat(ctx context.Context, modelName string, messages []api.Message, opts ChatOptions, stream bool, callback ChatCallback) error {
	req := &api.ChatRequest{
		Model:    modelName,
		Messages: messages,
		Stream:   func(b bool) *bool { return &b }(stream),
		Options:  opts.toMap(),
	}

	respFunc := func(resp api.ChatResponse) error {
		if callback != nil {
			return callback(resp)
		}
		return nil
	}

	return c.client.Chat(ctx, req, respFunc)
}

type ModelInfo struct {
	Name          string
	Size          int64
	Family        string
	ParameterSize string
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = ModelInfo{
			Name:          m.Name,
			Size:          m.Size,
			Family:        m.Details.Family,
			ParameterSize: m.Details.ParameterSize,
		}
	}

	return models, nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.client.Heartbeat(ctx)
}
