package model

// RawArticle is one article element as found in the source page. Any field
// the page did not provide is nil.
type RawArticle struct {
	Category *string `json:"category"`
	Title    *string `json:"title"`
	Link     *string `json:"link"`
	ImageURL *string `json:"image_url"`
	Content  *string `json:"content"`
}

type Article struct {
	ID       int64   `json:"id"`
	Category *string `json:"category"`
	Title    string  `json:"title"`
	Link     *string `json:"link"`
	ImageURL *string `json:"image_url"`
	Content  *string `json:"content"`
}

type Summary struct {
	ID          int64  `json:"id"`
	NewsID      int64  `json:"news_id"`
	SummaryText string `json:"summary_text"`
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
