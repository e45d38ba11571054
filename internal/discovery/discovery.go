// Package discovery implements Metadata Discovery & Digest (C10): a
// cached snapshot of the local node's own advertised metadata, and the
// compilation of per-node routing digests in either template (zero
// cost) or ai (single LLM call) mode.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mabou7agar/nodefabric/internal/domain"
)

// LocalMetadataCacheTTL bounds how long local metadata is served from
// cache before the next call recomputes it.
const LocalMetadataCacheTTL = 30 * time.Minute

// DigestMode selects how a node digest is produced.
type DigestMode string

const (
	ModeTemplate DigestMode = "template" // default
	ModeAI       DigestMode = "ai"
)

// SourceLister supplies the application surface this node advertises —
// populated at startup by the host application, matching spec §9's
// redesign of runtime class discovery into an explicit registry.
type SourceLister func() domain.AdvertisedMetadata

// LocalDiscovery caches the local node's own metadata snapshot.
type LocalDiscovery struct {
	mu       sync.Mutex
	source   SourceLister
	cached   domain.AdvertisedMetadata
	cachedAt time.Time
}

// NewLocalDiscovery constructs a LocalDiscovery backed by source.
func NewLocalDiscovery(source SourceLister) *LocalDiscovery {
	return &LocalDiscovery{source: source}
}

// Metadata returns the local node's advertised metadata, recomputing it
// once LocalMetadataCacheTTL has elapsed.
func (d *LocalDiscovery) Metadata() domain.AdvertisedMetadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.cachedAt) < LocalMetadataCacheTTL && !d.cachedAt.IsZero() {
		return d.cached
	}
	d.cached = d.source()
	d.cachedAt = time.Now()
	return d.cached
}

// Invalidate forces the next Metadata call to recompute.
func (d *LocalDiscovery) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedAt = time.Time{}
}

// Digester compiles node metadata into a routing digest string.
type Digester struct {
	mu    sync.Mutex
	mode  DigestMode
	llm   domain.LLMClient // nil when mode is template
	cache map[string]domain.NodeDigest
}

// NewDigester constructs a Digester. llm is only consulted when mode is
// ModeAI.
func NewDigester(mode DigestMode, llm domain.LLMClient) *Digester {
	if mode == "" {
		mode = ModeTemplate
	}
	return &Digester{mode: mode, llm: llm, cache: make(map[string]domain.NodeDigest)}
}

// Compile produces (or returns the cached) digest for a node's slug and
// metadata. On ModeAI failure it falls back to the template digest
// rather than propagating a DependencyFailure — the digest is an
// observability aid, not a correctness-critical path.
func (d *Digester) Compile(ctx context.Context, slug string, meta domain.AdvertisedMetadata) domain.NodeDigest {
	d.mu.Lock()
	if existing, ok := d.cache[slug]; ok && !existing.Dirty {
		d.mu.Unlock()
		return existing
	}
	d.mu.Unlock()

	text := templateDigest(slug, meta)
	digestMode := string(ModeTemplate)

	if d.mode == ModeAI && d.llm != nil {
		if ai, err := d.compileAI(ctx, slug, meta); err == nil {
			text = ai
			digestMode = string(ModeAI)
		}
	}

	digest := domain.NodeDigest{NodeSlug: slug, Text: text, Mode: digestMode}
	d.mu.Lock()
	d.cache[slug] = digest
	d.mu.Unlock()
	return digest
}

// MarkDirty flags slug's cached digest for lazy regeneration on its
// next Compile call, rather than regenerating synchronously — chosen
// because an LLM call is a suspension point that must not block the
// registry's mutation path (bulk metadata sync from many peers at once).
func (d *Digester) MarkDirty(slug string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.cache[slug]; ok {
		existing.Dirty = true
		d.cache[slug] = existing
	}
}

// FullDigest concatenates every node's digest (peers plus local), in
// the order given, for the Router's LLM prompt.
func FullDigest(digests []domain.NodeDigest) string {
	lines := make([]string, 0, len(digests))
	for _, d := range digests {
		lines = append(lines, d.Text)
	}
	return strings.Join(lines, "\n")
}

func templateDigest(slug string, meta domain.AdvertisedMetadata) string {
	var b strings.Builder
	name := meta.Description
	if name == "" {
		name = slug
	}
	fmt.Fprintf(&b, "- %s (%s)", name, slug)
	if meta.Description != "" {
		fmt.Fprintf(&b, ": %s.", meta.Description)
	}
	if len(meta.Capabilities) > 0 {
		fmt.Fprintf(&b, " Can: %s.", strings.Join(meta.Capabilities, ", "))
	}
	if len(meta.Domains) > 0 {
		fmt.Fprintf(&b, " Domains: %s.", strings.Join(meta.Domains, ", "))
	}
	return b.String()
}

func (d *Digester) compileAI(ctx context.Context, slug string, meta domain.AdvertisedMetadata) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize this node's routing capability in one short line.\nSlug: %s\nDescription: %s\nCapabilities: %s\nDomains: %s\nKeywords: %s\n",
		slug, meta.Description, strings.Join(meta.Capabilities, ", "), strings.Join(meta.Domains, ", "), strings.Join(meta.Keywords, ", "),
	)
	out, err := d.llm.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("discovery: ai digest: %w", err)
	}
	return strings.TrimSpace(out), nil
}
