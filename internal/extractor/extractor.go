// Package extractor implements the Hasher & Content Extractor (spec §4.1):
// it parses fetched HTML into a stable content representation and derives
// the fingerprint family used by the Change Detector.
package extractor

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"siteguard/internal/logging"
	"siteguard/internal/model"
)

// maxOutlineDepth bounds the DOM walk to avoid runaway nesting (§4.1 step 2).
const maxOutlineDepth = 10

// blockTags are the tags whose text content is considered significant
// (§4.1 step 3).
var blockTags = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.P: true, atom.Div: true,
	atom.Li: true, atom.Article: true, atom.Section: true,
	atom.Td: true, atom.Th: true, atom.Blockquote: true,
}

// defaultIgnoreTags are dropped entirely before the DOM walk because their
// content is irrelevant to defacement detection.
var defaultIgnoreTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Nav: true, atom.Noscript: true,
}

// Config tunes extraction behavior. All fields are optional; zero values
// fall back to the spec's defaults.
type Config struct {
	IgnoreTags  map[string]bool // extra tag names to drop, beyond the defaults
	MaxDepth    int
	OversizeCap int // bytes of raw HTML above which content is truncated
	SiteHost    string
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{MaxDepth: maxOutlineDepth, OversizeCap: 2 << 20} // 2MiB
}

// Extract parses rawHTML and produces the ExtractedContent + Fingerprints
// for one fetch. Malformed HTML is never fatal: html.Parse applies the
// HTML5 error-recovery rules and returns a best-effort tree, which is
// walked like any other.
func Extract(rawHTML string, cfg Config) (model.ExtractedContent, model.Fingerprints) {
	timer := logging.StartTimer(logging.CategoryExtractor, "Extract")
	defer timer.Stop()

	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = maxOutlineDepth
	}

	truncated := false
	if cfg.OversizeCap > 0 && len(rawHTML) > cfg.OversizeCap {
		rawHTML = rawHTML[:cfg.OversizeCap]
		truncated = true
		logging.Get(logging.CategoryExtractor).Warn("oversized content truncated to %d bytes", cfg.OversizeCap)
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		logging.Get(logging.CategoryExtractor).Error("best-effort parse failed entirely: %v", err)
		return model.ExtractedContent{Truncated: truncated}, model.Fingerprints{}
	}

	w := &walker{cfg: cfg, ignore: mergeIgnoreTags(cfg.IgnoreTags)}
	w.walk(doc, 0)

	content := model.ExtractedContent{
		Title:           w.title,
		MetaDescription: w.metaDescription,
		Outline:         w.outline,
		TextBlocks:      w.textBlocks,
		Links:           w.links,
		Forms:           w.forms,
		Truncated:       truncated,
	}

	content.NormalizedText = Normalize(strings.Join(w.textBlocks, " "))
	content.Keywords = Keywords(content.NormalizedText)

	fp := ComputeFingerprints(content)

	return content, fp
}

func mergeIgnoreTags(extra map[string]bool) map[atom.Atom]bool {
	if len(extra) == 0 {
		return defaultIgnoreTags
	}
	merged := make(map[atom.Atom]bool, len(defaultIgnoreTags)+len(extra))
	for k, v := range defaultIgnoreTags {
		merged[k] = v
	}
	for name := range extra {
		merged[atom.Lookup([]byte(name))] = true
	}
	return merged
}

type walker struct {
	cfg             Config
	ignore          map[atom.Atom]bool
	outline         []model.DOMNode
	textBlocks      []string
	links           []model.LinkRef
	forms           []model.FormRef
	title           string
	metaDescription string
}

func (w *walker) walk(n *html.Node, depth int) {
	if n == nil || depth > w.cfg.MaxDepth {
		return
	}

	if n.Type == html.ElementNode {
		if w.ignore[n.DataAtom] {
			return
		}

		w.outline = append(w.outline, model.DOMNode{
			Tag:     n.Data,
			Depth:   depth,
			Classes: sortedClasses(n),
			ID:      attrValue(n, "id"),
		})

		switch n.DataAtom {
		case atom.Title:
			w.title = strings.TrimSpace(textOf(n))
		case atom.Meta:
			if strings.EqualFold(attrValue(n, "name"), "description") {
				w.metaDescription = attrValue(n, "content")
			}
		case atom.A:
			href := attrValue(n, "href")
			if href != "" {
				w.links = append(w.links, model.LinkRef{
					Href:     href,
					Text:     strings.TrimSpace(textOf(n)),
					Internal: isInternal(href, w.cfg.SiteHost),
				})
			}
		case atom.Form:
			w.forms = append(w.forms, extractForm(n))
		}

		if blockTags[n.DataAtom] {
			text := strings.TrimSpace(textOf(n))
			if text != "" {
				w.textBlocks = append(w.textBlocks, text)
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, depth+1)
	}
}

func sortedClasses(n *html.Node) []string {
	raw := attrValue(n, "class")
	if raw == "" {
		return nil
	}
	classes := strings.Fields(raw)
	sort.Strings(classes)
	return classes
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textOf returns the direct text content of a node, not recursing into
// block-level descendants (those are collected as their own blocks).
func textOf(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
			return
		}
		if n.Type == html.ElementNode && blockTags[n.DataAtom] && n.Parent != nil {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visit(c)
	}
	return sb.String()
}

func isInternal(href, siteHost string) bool {
	if siteHost == "" {
		return strings.HasPrefix(href, "/") || !strings.Contains(href, "://")
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	if u.Host == "" {
		return true
	}
	return strings.EqualFold(u.Host, siteHost)
}

func extractForm(n *html.Node) model.FormRef {
	f := model.FormRef{
		Action: attrValue(n, "action"),
		Method: strings.ToUpper(attrValue(n, "method")),
	}
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Input || n.DataAtom == atom.Textarea || n.DataAtom == atom.Select) {
			f.Fields = append(f.Fields, model.FormField{
				Name: attrValue(n, "name"),
				Type: attrValue(n, "type"),
			})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return f
}
