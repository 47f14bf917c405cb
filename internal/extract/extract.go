// Package extract pulls article records out of the source news page.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"newsdigest/internal/model"
	"newsdigest/internal/normalize"
)

// DefaultContainerSelector is the main content region of the source site.
const DefaultContainerSelector = "#__layout > div > main"

var ErrContainerNotFound = errors.New("main container not found")

type Extractor struct {
	containerSelector string
}

func New(containerSelector string) *Extractor {
	if strings.TrimSpace(containerSelector) == "" {
		containerSelector = DefaultContainerSelector
	}
	return &Extractor{containerSelector: containerSelector}
}

// ExtractBytes is Extract over an in-memory page.
func (e *Extractor) ExtractBytes(page []byte) ([]model.RawArticle, error) {
	return e.Extract(bytes.NewReader(page))
}

// Extract returns one record per article element of the main container, in
// document order. When the container is missing it returns an empty slice
// together with ErrContainerNotFound.
func (e *Extractor) Extract(r io.Reader) ([]model.RawArticle, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	container := doc.Find(e.containerSelector).First()
	if container.Length() == 0 {
		return []model.RawArticle{}, ErrContainerNotFound
	}
	articles := container.Find("article")
	out := make([]model.RawArticle, 0, articles.Length())
	articles.Each(func(_ int, s *goquery.Selection) {
		out = append(out, extractArticle(s))
	})
	return out, nil
}

// extractArticle reads every field on its own; a missing tag or attribute
// leaves that field nil.
func extractArticle(s *goquery.Selection) model.RawArticle {
	var item model.RawArticle

	anchor := s.Find("a").First()
	if anchor.Length() > 0 {
		item.Category = ptr(strings.TrimSpace(anchor.Text()))
		if href, ok := anchor.Attr("href"); ok {
			item.Link = ptr(href)
		}
	}

	heading := s.Find("h2").First()
	if heading.Length() == 0 {
		heading = s.Find("h3").First()
	}
	if heading.Length() > 0 {
		item.Title = ptr(strings.TrimSpace(heading.Text()))
	}

	if src, ok := s.Find("img").First().Attr("src"); ok {
		item.ImageURL = ptr(src)
	}

	if p := s.Find("p").First(); p.Length() > 0 {
		text := strings.TrimSpace(joinText(p.Nodes[0], "\n"))
		item.Content = ptr(normalize.CollapseWhitespace(text))
	}
	return item
}

// joinText concatenates every text node under n with sep between them.
func joinText(n *html.Node, sep string) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, sep)
}

func ptr(s string) *string { return &s }
