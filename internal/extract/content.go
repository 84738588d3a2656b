package extract

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// skipTags are subtrees that never contribute visible content.
var skipTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"meta":     {},
	"link":     {},
	"noscript": {},
	"iframe":   {},
	"svg":      {},
	"head":     {},
}

// blockTags delimit paragraphs.
var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "article": {}, "section": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"li": {}, "td": {}, "th": {},
}

type unitKind int

const (
	unitText unitKind = iota
	unitImage
	unitBreak
)

// unit is an intermediate fold item; breaks are dropped before returning.
type unit struct {
	kind  unitKind
	text  string
	image crawler.ImageBlock
}

// StructuredContent walks the document in order and returns one TextBlock per
// non-blank text node and one ImageBlock per image, in document position.
func StructuredContent(markup, baseURL string) crawler.Blocks {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return crawler.Blocks{}
	}
	base, _ := url.Parse(baseURL)
	return blocksOf(fold(root, base, nil))
}

func fold(n *html.Node, base *url.URL, acc []unit) []unit {
	switch n.Type {
	case html.TextNode:
		if text := collapseSpace(n.Data); text != "" {
			return append(acc, unit{kind: unitText, text: text})
		}
		return acc
	case html.CommentNode, html.DoctypeNode:
		return acc
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if _, skip := skipTags[tag]; skip {
			return acc
		}
		switch tag {
		case "img":
			src := resolve(base, imageSource(attr(n, "src"), attr(n, "data-src")))
			if src == "" {
				return acc
			}
			return append(acc, unit{kind: unitImage, image: crawler.ImageBlock{
				URL:   src,
				Alt:   attr(n, "alt"),
				Title: attr(n, "title"),
			}})
		case "br":
			return append(acc, unit{kind: unitBreak})
		}
		if _, block := blockTags[tag]; block {
			acc = breakAfterText(acc)
			acc = foldChildren(n, base, acc)
			return breakAfterText(acc)
		}
	}
	return foldChildren(n, base, acc)
}

func foldChildren(n *html.Node, base *url.URL, acc []unit) []unit {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		acc = fold(c, base, acc)
	}
	return acc
}

func breakAfterText(acc []unit) []unit {
	if len(acc) > 0 && acc[len(acc)-1].kind == unitText {
		return append(acc, unit{kind: unitBreak})
	}
	return acc
}

// blocksOf drops paragraph markers and empty text. Every text node stays its
// own TextBlock; nodes are never joined, so inline markup cannot split words.
func blocksOf(units []unit) crawler.Blocks {
	blocks := crawler.Blocks{}
	for _, u := range units {
		switch u.kind {
		case unitText:
			if text := strings.TrimSpace(u.text); text != "" {
				blocks = append(blocks, crawler.TextBlock{Content: text})
			}
		case unitImage:
			blocks = append(blocks, u.image)
		case unitBreak:
		}
	}
	return blocks
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
