// Package normalize converts raw wiki markup into the plain structured text
// consumed downstream. The transform is deterministic and side-effect free.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	// excessiveBlankLines collapses any whitespace-only gap between lines to
	// exactly one blank line.
	excessiveBlankLines = regexp.MustCompile(`\n\s*\n`)

	// redundantCodeTable matches the degenerate single-cell table the
	// conversion produces for a panel-wrapped code block:
	//     | ``` code ``` |
	//     | --- |
	redundantCodeTable = regexp.MustCompile("(?s)\\| ``` (.*?) ``` \\|\n\\| --- \\|")

	// whitespaceRuns is used by the tag-strip fallback.
	whitespaceRuns = regexp.MustCompile(`[ \t]+`)
)

// panelTableSelector matches the decorative wrapper tables the wiki editor
// emits around panels. Converted naively they render as broken multi-row
// tables, so their inner content is unwrapped before conversion.
const panelTableSelector = `table.wysiwyg-macro[data-macro-name="panel"]`

// Normalizer converts raw HTML markup to normalized markdown text.
type Normalizer struct {
	converter *converter.Converter
	stripper  *bluemonday.Policy
}

// New builds a Normalizer with the commonmark and table conversion plugins.
func New() *Normalizer {
	return &Normalizer{
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		stripper: bluemonday.StrictPolicy(),
	}
}

// Normalize is the pure markup-to-text transform: unwrap decorative panel
// tables, convert to markdown, collapse blank-line runs, and flatten
// degenerate code tables. Same input always yields same output, and input
// that carries no markup (in particular, output of an earlier pass) comes
// back unchanged apart from whitespace collapsing.
func (n *Normalizer) Normalize(rawHTML string) (string, error) {
	if !containsMarkup(rawHTML) {
		out := excessiveBlankLines.ReplaceAllString(rawHTML, "\n\n")
		return strings.TrimSpace(out), nil
	}

	pre, err := unwrapPanelTables(rawHTML)
	if err != nil {
		return "", fmt.Errorf("unwrap panel tables: %w", err)
	}

	markdown, err := n.converter.ConvertString(pre)
	if err != nil {
		return "", fmt.Errorf("convert markup: %w", err)
	}

	markdown = excessiveBlankLines.ReplaceAllString(markdown, "\n\n")
	markdown = collapseCodeTables(markdown)
	return strings.TrimSpace(markdown), nil
}

// collapseCodeTables flattens the degenerate single-cell code table into a
// plain fenced block.
func collapseCodeTables(markdown string) string {
	return redundantCodeTable.ReplaceAllString(markdown, "```\n${1}\n```\n")
}

// containsMarkup reports whether the input holds any element, comment, or
// doctype node beyond the implicit html/head/body wrapper the parser adds
// around bare text. Markdown text parses to text nodes only.
func containsMarkup(s string) bool {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return true
	}
	var walk func(*html.Node) bool
	walk = func(node *html.Node) bool {
		switch node.Type {
		case html.CommentNode, html.DoctypeNode:
			return true
		case html.ElementNode:
			switch node.Data {
			case "html", "head", "body":
			default:
				return true
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(doc)
}

// NormalizeOrFallback applies the fallback chain: full normalization, then a
// bare tag strip, then the title alone. The result is never empty when the
// title is non-empty.
func (n *Normalizer) NormalizeOrFallback(rawHTML, title string) string {
	if out, err := n.Normalize(rawHTML); err == nil && out != "" {
		return out
	}
	if out := n.StripTags(rawHTML); out != "" {
		return out
	}
	return strings.TrimSpace(title)
}

// StripTags removes all markup and returns the bare visible text with
// whitespace collapsed.
func (n *Normalizer) StripTags(rawHTML string) string {
	text := n.stripper.Sanitize(rawHTML)
	text = html.UnescapeString(text)
	text = whitespaceRuns.ReplaceAllString(text, " ")
	text = excessiveBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// unwrapPanelTables removes the panel wrapper table structure (table, tbody,
// tr, td) while preserving the cells' inner content in document order.
func unwrapPanelTables(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse markup: %w", err)
	}

	// Repeat until no wrapper remains so nested panels unwrap too.
	for {
		tables := doc.Find(panelTableSelector)
		if tables.Length() == 0 {
			break
		}
		tables.Each(func(_ int, tbl *goquery.Selection) {
			unwrapTable(tbl)
		})
	}

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize markup: %w", err)
	}
	return out, nil
}

func unwrapTable(tbl *goquery.Selection) {
	tableNode := tbl.Get(0)
	parent := tableNode.Parent
	if parent == nil {
		return
	}

	var inner []*html.Node
	tbl.Find("td").Each(func(_ int, cell *goquery.Selection) {
		for _, node := range cell.Contents().Nodes {
			inner = append(inner, node)
		}
	})

	for _, node := range inner {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
		parent.InsertBefore(node, tableNode)
	}
	tbl.Remove()
}
