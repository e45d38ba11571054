// Package httpjson implements domain.LLMClient against any OpenAI-style
// JSON completion endpoint, using the same request factory C9's
// forwarder uses for peer calls.
package httpjson

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mabou7agar/nodefabric/internal/httpclient"
)

// Client calls a single-endpoint completion API: POST {path} with
// {"prompt": "..."} and a {"completion": "..."} JSON reply. This is
// intentionally narrower than any one vendor's chat-completions shape;
// point it at a small translation shim if the backing model server
// speaks something richer.
type Client struct {
	factory *httpclient.Factory
	path    string
}

// New constructs a Client against baseURL, authenticating with apiKey
// (sent in the X-Node-Token header) if non-empty.
func New(baseURL, path, apiKey string) *Client {
	opts := []httpclient.Option{httpclient.WithTimeout(httpclient.DefaultTimeout)}
	if apiKey != "" {
		opts = append(opts, httpclient.WithTokenSource(func() (string, error) { return apiKey, nil }))
	}
	if path == "" {
		path = "/v1/complete"
	}
	return &Client{factory: httpclient.New(baseURL, opts...), path: path}
}

type completeRequest struct {
	Prompt string `json:"prompt"`
}

type completeResponse struct {
	Completion string `json:"completion"`
}

// Complete implements domain.LLMClient.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req, err := c.factory.NewRequest(ctx, http.MethodPost, c.path, completeRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	var out completeResponse
	resp, err := c.factory.Do(req, &out)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("httpjson: completion endpoint returned %d", resp.StatusCode)
	}
	return out.Completion, nil
}
