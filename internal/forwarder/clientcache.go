package forwarder

import (
	"sync"
	"time"

	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/httpclient"
)

// clientCache memoizes one httpclient.Factory per (node, timeout) pair
// so repeated dispatches reuse connections instead of rebuilding a
// client (and its underlying *http.Client) on every call.
type clientCache struct {
	mu      sync.Mutex
	clients map[string]*httpclient.Factory
	tokens  TokenIssuer // may be nil
}

func newClientCache(tokens TokenIssuer) *clientCache {
	return &clientCache{clients: make(map[string]*httpclient.Factory), tokens: tokens}
}

func (c *clientCache) get(n *domain.Node, timeout time.Duration) *httpclient.Factory {
	key := n.Slug + "|" + n.BaseURL + "|" + timeout.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.clients[key]; ok {
		return f
	}

	tokenSource := func() (string, error) {
		if c.tokens == nil {
			return n.APIKey, nil
		}
		return c.tokens.GenerateToken(n, 0)
	}
	f := httpclient.New(n.BaseURL, httpclient.WithTimeout(timeout), httpclient.WithTokenSource(tokenSource))
	c.clients[key] = f
	return f
}
