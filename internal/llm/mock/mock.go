// Package mock provides a deterministic domain.LLMClient for running
// the fabric without a real model backend wired in: local development,
// and any node that hasn't configured internal/llm/httpjson.
package mock

import (
	"context"
	"fmt"
	"strings"
)

// Client implements domain.LLMClient by echoing a canned completion
// shaped like what a real digest/routing prompt expects, so ModeAI
// digests and AI-intent routing stay exercisable without a model.
type Client struct {
	// Reply, if set, is returned verbatim for every Complete call.
	// Leave empty to derive a reply from the prompt's shape instead.
	Reply string
}

// New returns a Client. Pass "" to derive replies from the prompt.
func New(reply string) *Client {
	return &Client{Reply: reply}
}

// Complete implements domain.LLMClient.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.Reply != "" {
		return c.Reply, nil
	}
	if strings.Contains(prompt, "NODE:") || strings.Contains(prompt, "Which node") {
		return "NODE: LOCAL\nREASON: mock client has no real routing judgment", nil
	}
	return fmt.Sprintf("summary unavailable (mock client): %s", firstLine(prompt)), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
