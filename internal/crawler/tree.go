package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// NodeRef is an opaque handle to one hierarchy node. The live NodeSource
// hands out browser element references; tests hand out synthetic nodes.
type NodeRef any

// NodeSource exposes the site's nested link tree. Separating it from the
// traversal keeps the algorithm testable against an in-memory tree while the
// live implementation clicks toggles and waits for child lists to appear.
type NodeSource interface {
	// Links returns the anchor elements of node in document order.
	Links(ctx context.Context, node NodeRef) ([]Link, error)
	// Expand triggers the node's expand toggle and returns any child nodes
	// that become visible, in document order.
	Expand(ctx context.Context, node NodeRef) ([]NodeRef, error)
}

// TreeCrawler recursively discovers the full ordered set of (url, title)
// pairs reachable from a root page's hierarchy container. Traversal is
// depth-first with children appended after their parent, so the output order
// is stable across re-runs of the same tree and downstream resumption
// indices stay reproducible.
type TreeCrawler struct {
	source NodeSource
	origin *url.URL
	logger *zap.Logger
	seen   map[string]struct{}
}

// NewTreeCrawler builds a crawler that accepts only links resolving under
// siteOrigin; anything cross-origin is discarded.
func NewTreeCrawler(source NodeSource, siteOrigin string, logger *zap.Logger) (*TreeCrawler, error) {
	if source == nil {
		return nil, fmt.Errorf("node source is required")
	}
	origin, err := url.Parse(siteOrigin)
	if err != nil {
		return nil, fmt.Errorf("parse site origin %q: %w", siteOrigin, err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("site origin %q must be absolute", siteOrigin)
	}
	return &TreeCrawler{
		source: source,
		origin: origin,
		logger: logger,
		seen:   make(map[string]struct{}),
	}, nil
}

// Discover walks the hierarchy nodes depth-first and returns the ordered,
// discovery-order-deduplicated list of page links.
func (t *TreeCrawler) Discover(ctx context.Context, nodes []NodeRef) ([]Link, error) {
	var pages []Link
	if err := t.walk(ctx, nodes, &pages); err != nil {
		return pages, err
	}
	return pages, nil
}

func (t *TreeCrawler) walk(ctx context.Context, nodes []NodeRef, pages *[]Link) error {
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("tree discovery canceled: %w", err)
		}

		links, err := t.source.Links(ctx, node)
		if err != nil {
			t.logger.Warn("Could not read node links, skipping node", zap.Error(err))
			continue
		}

		switch {
		case len(links) == 0:
			// Nothing usable; silently skip.
		case len(links) == 1:
			t.record(links[0], pages)
		default:
			// First anchor is the expand toggle, second is the page link.
			// The page link always counts even if expansion fails.
			t.record(links[1], pages)
			children, err := t.source.Expand(ctx, node)
			if err != nil {
				t.logger.Warn("Could not expand node, continuing with siblings",
					zap.String("title", links[1].Title), zap.Error(err))
				continue
			}
			if err := t.walk(ctx, children, pages); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *TreeCrawler) record(link Link, pages *[]Link) {
	if strings.TrimSpace(link.URL) == "" || strings.TrimSpace(link.Title) == "" {
		return
	}
	if !sameOrigin(t.origin, link.URL) {
		t.logger.Debug("Discarding cross-origin link", zap.String("url", link.URL))
		return
	}
	if _, dup := t.seen[link.URL]; dup {
		return
	}
	t.seen[link.URL] = struct{}{}
	*pages = append(*pages, link)
}

// sameOrigin reports whether raw resolves under the expected scheme and host.
func sameOrigin(origin *url.URL, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, origin.Scheme) && strings.EqualFold(u.Hostname(), origin.Hostname())
}
