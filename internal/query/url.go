package query

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	qs "github.com/google/go-querystring/query"
)

// Filter maps a filter name to the values accepted for it. Values for the
// same name are OR-ed by the API.
type Filter map[string][]string

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Sort names the field to sort on and the direction.
type Sort struct {
	Name  string `json:"name"`
	Order Order  `json:"order"`
}

// PageSize is the number of items requested per page.
type PageSize int

// CurrentPage is an opaque cursor handed out by the API in its paging links.
// The empty value addresses the first page.
type CurrentPage string

// Links are the paging links of a list response.
type Links struct {
	First string `json:"first,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Self  string `json:"self,omitempty"`
	Next  string `json:"next,omitempty"`
	Last  string `json:"last,omitempty"`
}

// PageCursor extracts the query string of a paging link so it can be used as
// the CurrentPage of the next query.
func PageCursor(link string) CurrentPage {
	_, rawQuery, found := strings.Cut(link, "?")
	if !found {
		return ""
	}
	return CurrentPage(rawQuery)
}

// Metadata is the paging metadata of a list response.
type Metadata struct {
	Total  int `json:"total"`
	Before int `json:"before"`
	After  int `json:"after"`
	Page   int `json:"page_size"`
}

// EncodeParams encodes a struct with `url` tags into query values.
func EncodeParams(params any) (url.Values, error) {
	values, err := qs.Values(params)
	if err != nil {
		return nil, fmt.Errorf("encoding query parameters: %w", err)
	}
	return values, nil
}

// FilterParams adds filter.<name>=value pairs for every filter value. Empty
// values are dropped, values are sorted so equal filters encode equally.
func FilterParams(values url.Values, filter Filter) {
	for name, vs := range filter {
		cleaned := make([]string, 0, len(vs))
		for _, v := range vs {
			if v != "" {
				cleaned = append(cleaned, v)
			}
		}
		if len(cleaned) == 0 {
			continue
		}
		slices.Sort(cleaned)
		values["filter."+name] = cleaned
	}
}

// SortParam renders a sort as the "name.order" form the API expects.
func SortParam(sort *Sort) string {
	if sort == nil || sort.Name == "" {
		return ""
	}
	order := sort.Order
	if order == "" {
		order = Asc
	}
	return sort.Name + "." + string(order)
}

// ParseSort is the inverse of SortParam.
func ParseSort(s string) (*Sort, error) {
	if s == "" {
		return nil, nil
	}
	name, order, found := strings.Cut(s, ".")
	if !found || name == "" {
		return nil, fmt.Errorf("invalid sort %q: expected <name>.<asc|desc>", s)
	}
	switch Order(order) {
	case Asc, Desc:
		return &Sort{Name: name, Order: Order(order)}, nil
	default:
		return nil, fmt.Errorf("invalid sort order %q: expected asc or desc", order)
	}
}

// Join builds a URL from a path and query values. url.Values.Encode sorts by
// key, so the same parameters always give the same URL. A non-empty page
// cursor replaces the generated query string: it already carries the
// parameters the API wants for that page.
func Join(path string, values url.Values, page CurrentPage) string {
	if page != "" {
		return path + "?" + string(page)
	}
	encoded := values.Encode()
	if encoded == "" {
		return path
	}
	return path + "?" + encoded
}
