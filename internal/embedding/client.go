package embedding

import (
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the OpenAI client shared by the embedding and generation adapters.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI client. baseURL may be empty to use the public API.
func NewClient(apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not set (OPENAI_API_KEY)")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., generation).
func (c *Client) Client() *openai.Client {
	return c.client
}
