// Package pagination reads FHIR paging parameters and builds the matching
// Bundle links.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultCount = 50
	MaxCount     = 500
)

// Params holds the _count and _offset of a search request.
type Params struct {
	Count  int
	Offset int
}

// FromContext extracts paging parameters from the echo context. Missing or
// invalid values fall back to the defaults; _count is capped at MaxCount.
func FromContext(c echo.Context) Params {
	count, err := strconv.Atoi(c.QueryParam("_count"))
	if err != nil || count < 0 {
		count = DefaultCount
	}
	if count > MaxCount {
		count = MaxCount
	}

	offset, err := strconv.Atoi(c.QueryParam("_offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	return Params{Count: count, Offset: offset}
}

// Window returns the bounds of the page within total items, for slicing.
func (p Params) Window(total int) (start, end int) {
	start = min(p.Offset, total)
	end = min(start+p.Count, total)
	return start, end
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Count > 0 && p.Offset+p.Count < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Count
}

// PreviousOffset returns the offset for the previous page, never negative.
func (p Params) PreviousOffset() int {
	return max(p.Offset-p.Count, 0)
}

// Link is a FHIR Bundle.link entry.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Links returns the self, next and previous links of a searchset. Filters
// in query are carried over to every link; its paging parameters are
// replaced.
func (p Params) Links(basePath string, query url.Values, total int) []Link {
	link := func(rel string, offset int) Link {
		q := url.Values{}
		for k, v := range query {
			if k != "_count" && k != "_offset" {
				q[k] = v
			}
		}
		q.Set("_count", strconv.Itoa(p.Count))
		q.Set("_offset", strconv.Itoa(offset))
		return Link{Relation: rel, URL: basePath + "?" + q.Encode()}
	}

	links := []Link{link("self", p.Offset)}
	if p.HasNext(total) {
		links = append(links, link("next", p.NextOffset()))
	}
	if p.HasPrevious() {
		links = append(links, link("previous", p.PreviousOffset()))
	}
	return links
}
