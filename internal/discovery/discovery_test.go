package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

func TestLocalDiscoveryCachesUntilInvalidated(t *testing.T) {
	calls := 0
	d := NewLocalDiscovery(func() domain.AdvertisedMetadata {
		calls++
		return domain.AdvertisedMetadata{Status: "active"}
	})

	d.Metadata()
	d.Metadata()
	require.Equal(t, 1, calls)

	d.Invalidate()
	d.Metadata()
	require.Equal(t, 2, calls)
}

func TestDigesterTemplateModeIncludesCapabilitiesAndDomains(t *testing.T) {
	d := NewDigester(ModeTemplate, nil)
	meta := domain.AdvertisedMetadata{
		Description:  "invoice processing",
		Capabilities: []string{"search", "chat"},
		Domains:      []string{"finance"},
	}
	digest := d.Compile(context.Background(), "invoicing-node", meta)
	require.Equal(t, "template", digest.Mode)
	require.Contains(t, digest.Text, "invoicing-node")
	require.Contains(t, digest.Text, "search, chat")
	require.Contains(t, digest.Text, "finance")
}

func TestDigesterCachesUntilMarkedDirty(t *testing.T) {
	calls := 0
	d := NewDigester(ModeTemplate, nil)
	meta := domain.AdvertisedMetadata{Description: "x"}

	first := d.Compile(context.Background(), "n1", meta)
	calls++ // template compile is pure, just counting calls for clarity
	second := d.Compile(context.Background(), "n1", meta)
	require.Equal(t, first.Text, second.Text)

	d.MarkDirty("n1")
	third := d.Compile(context.Background(), "n1", domain.AdvertisedMetadata{Description: "y"})
	require.Contains(t, third.Text, "y")
}

type stubLLM struct {
	out string
	err error
}

func (s stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.out, s.err
}

func TestDigesterAIModeUsesLLMOutput(t *testing.T) {
	d := NewDigester(ModeAI, stubLLM{out: "Handles invoices and billing."})
	digest := d.Compile(context.Background(), "invoicing-node", domain.AdvertisedMetadata{Description: "invoice processing"})
	require.Equal(t, "ai", digest.Mode)
	require.Equal(t, "Handles invoices and billing.", digest.Text)
}

func TestDigesterAIModeFallsBackToTemplateOnError(t *testing.T) {
	d := NewDigester(ModeAI, stubLLM{err: errors.New("llm unavailable")})
	digest := d.Compile(context.Background(), "invoicing-node", domain.AdvertisedMetadata{Description: "invoice processing"})
	require.Equal(t, "template", digest.Mode)
	require.Contains(t, digest.Text, "invoicing-node")
}

func TestFullDigestJoinsInOrder(t *testing.T) {
	digests := []domain.NodeDigest{
		{NodeSlug: "a", Text: "line-a"},
		{NodeSlug: "b", Text: "line-b"},
	}
	require.Equal(t, "line-a\nline-b", FullDigest(digests))
}
