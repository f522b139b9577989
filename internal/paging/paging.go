// Package paging slices stably ordered report lists into pages.
package paging

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	cerrors "covdiff/internal/errors"
)

// DefaultSize is used when a page asks for zero items.
const DefaultSize = 50

// Page selects a window of a list. Number starts at 1.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"pageSize"`
}

// Normalize clamps the page to Number >= 1 and Size > 0.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultSize
	}
	return p
}

// Offset returns the index of the first item on the page.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// Limit returns the page size.
func (p Page) Limit() int {
	return p.Normalize().Size
}

// List is one page of results with the total size of the full list.
type List[T any] struct {
	Page  Page `json:"page"`
	Items []T  `json:"items"`
	Total int  `json:"total"`
}

// New builds a page from items already cut to the page window. totalFn is
// only called when the page is full; otherwise the total is known to be
// offset + len(items).
func New[T any](page Page, items []T, totalFn func() (int, error)) (*List[T], error) {
	page = page.Normalize()
	if items == nil {
		items = []T{}
	}
	out := &List[T]{Page: page, Items: items, Total: page.Offset() + len(items)}
	if (len(items) == 0 && page.Number > 1) || len(items) == page.Size {
		if totalFn == nil {
			return out, nil
		}
		total, err := totalFn()
		if err != nil {
			return nil, err
		}
		out.Total = total
	}
	return out, nil
}

// Paginate cuts the page out of a fully materialised list.
func Paginate[T any](page Page, all []T) *List[T] {
	page = page.Normalize()
	start := page.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	items := make([]T, end-start)
	copy(items, all[start:end])
	return &List[T]{Page: page, Items: items, Total: len(all)}
}

// HasNext reports whether another page follows.
func (l *List[T]) HasNext() bool {
	return l.Page.Offset()+len(l.Items) < l.Total
}

// Next returns the page after l.
func (l *List[T]) Next() Page {
	return Page{Number: l.Page.Number + 1, Size: l.Page.Size}
}

type cursorData struct {
	Number int `json:"n"`
	Size   int `json:"s"`
}

// EncodeCursor renders a page as an opaque URL-safe token.
func EncodeCursor(p Page) string {
	p = p.Normalize()
	payload, _ := json.Marshal(cursorData{Number: p.Number, Size: p.Size})
	return base64.RawURLEncoding.EncodeToString(payload)
}

// DecodeCursor parses a token made by EncodeCursor. An empty token is the
// first page of DefaultSize.
func DecodeCursor(cursor string) (Page, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return Page{Number: 1, Size: DefaultSize}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return Page{}, cerrors.New(cerrors.InvalidArgument, "invalid page cursor", err)
	}
	var data cursorData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Page{}, cerrors.New(cerrors.InvalidArgument, "invalid page cursor", err)
	}
	return Page{Number: data.Number, Size: data.Size}.Normalize(), nil
}
