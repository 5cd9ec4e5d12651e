package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/crawler"
)

// Live tree nodes are list items in the browser DOM. Each one the fetcher
// hands out is tagged with a data attribute so later Links and Expand calls
// can address it without holding remote object references across
// navigations.
const nodeTagAttr = "data-wh-node"

type anchorInfo struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// OpenHierarchy navigates to the hierarchy root page and returns its
// top-level list items.
func (f *Fetcher) OpenHierarchy(ctx context.Context, rootURL string) ([]crawler.NodeRef, error) {
	if !f.authenticated {
		return nil, ErrNotAuthenticated
	}
	runCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.NavigationTimeout)
	defer cancel()
	runCtx = mergeCancel(runCtx, ctx)

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(rootURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("navigate hierarchy root %s: %w", rootURL, err)
	}

	var containerSel string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(hierarchyContainerJS, &containerSel)); err != nil {
		return nil, fmt.Errorf("locate hierarchy container: %w", err)
	}
	if containerSel == "" {
		return nil, fmt.Errorf("no hierarchy list found at %s", rootURL)
	}
	f.logger.Debug("Hierarchy container located", zap.String("selector", containerSel))

	return f.tagChildren(runCtx, fmt.Sprintf("document.querySelector(%q)", containerSel))
}

// Links returns the anchors that belong to the node itself, excluding any
// that sit inside a nested child list.
func (f *Fetcher) Links(ctx context.Context, node crawler.NodeRef) ([]crawler.Link, error) {
	tag, ok := node.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected node ref type %T", node)
	}
	runCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.NavigationTimeout)
	defer cancel()
	runCtx = mergeCancel(runCtx, ctx)

	js := fmt.Sprintf(`(() => {
		const node = document.querySelector('[%s="%s"]');
		if (!node) return [];
		return Array.from(node.querySelectorAll("a"))
			.filter(a => a.closest("li") === node)
			.map(a => ({href: a.href || "", text: a.innerText.trim()}));
	})()`, nodeTagAttr, tag)

	var anchors []anchorInfo
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &anchors)); err != nil {
		return nil, fmt.Errorf("read node anchors: %w", err)
	}
	links := make([]crawler.Link, 0, len(anchors))
	for _, a := range anchors {
		links = append(links, crawler.Link{URL: a.Href, Title: a.Text})
	}
	return links, nil
}

// Expand clicks the node's first anchor, which toggles its subtree open,
// waits for the child list to render, and returns the child list items.
func (f *Fetcher) Expand(ctx context.Context, node crawler.NodeRef) ([]crawler.NodeRef, error) {
	tag, ok := node.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected node ref type %T", node)
	}
	runCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.NavigationTimeout)
	defer cancel()
	runCtx = mergeCancel(runCtx, ctx)

	nodeExpr := fmt.Sprintf(`document.querySelector('[%s="%s"]')`, nodeTagAttr, tag)
	clickJS := fmt.Sprintf(`(() => {
		const node = %s;
		if (!node) return false;
		const toggle = node.querySelector("a");
		if (!toggle) return false;
		toggle.click();
		return true;
	})()`, nodeExpr)

	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(clickJS, &clicked)); err != nil {
		return nil, fmt.Errorf("click expand toggle: %w", err)
	}
	if !clicked {
		return nil, fmt.Errorf("expand toggle not found for node %s", tag)
	}

	if err := chromedp.Run(runCtx, chromedp.Sleep(f.cfg.ExpandWait)); err != nil {
		return nil, err
	}

	// Children render into a ul directly under the expanded item.
	childListExpr := fmt.Sprintf(`%s.querySelector(":scope > ul")`, nodeExpr)
	refs, err := f.tagChildren(runCtx, childListExpr)
	if err != nil {
		return nil, fmt.Errorf("enumerate children of node %s: %w", tag, err)
	}
	return refs, nil
}

// tagChildren stamps each direct li child of the list produced by listExpr
// with a fresh node tag and returns the tags in document order.
func (f *Fetcher) tagChildren(ctx context.Context, listExpr string) ([]crawler.NodeRef, error) {
	// A short settle loop: child lists can arrive a beat after the toggle
	// click reports success.
	deadline := time.Now().Add(f.cfg.ExpandWait * 3)
	for {
		js := fmt.Sprintf(`(() => {
			const list = %s;
			if (!list) return null;
			const tags = [];
			for (const li of list.children) {
				if (li.tagName !== "LI") continue;
				let tag = li.getAttribute(%q);
				if (!tag) {
					tag = "n" + %d + "_" + tags.length + "_" + Date.now();
					li.setAttribute(%q, tag);
				}
				tags.push(tag);
			}
			return tags;
		})()`, listExpr, nodeTagAttr, f.nodeSeq, nodeTagAttr)

		var tags []string
		if err := chromedp.Run(ctx, chromedp.Evaluate(js, &tags)); err != nil {
			return nil, err
		}
		if tags != nil {
			f.nodeSeq++
			refs := make([]crawler.NodeRef, len(tags))
			for i, t := range tags {
				refs[i] = t
			}
			return refs, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("child list never appeared")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
