// Package normalize turns extracted article records into store input and
// derives the natural key used for upserts and deduplication.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"newsdigest/internal/model"
)

var ErrMissingTitle = errors.New("article has no title")

var whitespace = regexp.MustCompile(`\s+`)

// ArticleInput is a cleaned record ready for Store.UpsertArticle.
type ArticleInput struct {
	Category *string
	Title    string
	Link     *string
	ImageURL *string
	Content  *string
	TitleKey string
	LinkKey  string
}

// Key is the comparison form of a title or link: trimmed and lowercased.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Hash is the hex SHA-256 of Key(s). It stands in for the full normalized
// value in the unique index, so long values never collide on a prefix.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(Key(s)))
	return hex.EncodeToString(sum[:])
}

// NaturalKey returns the hashed (title, link) pair. A nil link hashes like
// the empty string.
func NaturalKey(title string, link *string) (titleKey, linkKey string) {
	return Hash(title), Hash(model.StringValue(link))
}

func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Record cleans a raw record. Blank optional fields become nil.
func Record(raw model.RawArticle) (ArticleInput, error) {
	title := strings.TrimSpace(model.StringValue(raw.Title))
	if title == "" {
		return ArticleInput{}, ErrMissingTitle
	}
	in := ArticleInput{
		Category: trimmed(raw.Category),
		Title:    title,
		Link:     trimmed(raw.Link),
		ImageURL: trimmed(raw.ImageURL),
	}
	if raw.Content != nil {
		in.Content = model.StringPtr(CollapseWhitespace(*raw.Content))
	}
	in.TitleKey, in.LinkKey = NaturalKey(in.Title, in.Link)
	return in, nil
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	return model.StringPtr(strings.TrimSpace(*p))
}
