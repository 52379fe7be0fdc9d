// Package pagination pages the operator API's ledger listings. Runs are
// append-only and listed newest first, so offset paging is stable between
// requests except for runs started in between, which shift the window.
package pagination

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}

// Parse reads ?limit= and ?offset=. Absent values take the defaults and a
// limit above MaxLimit is capped. Anything that is not a non-negative
// integer is rejected with 400 rather than quietly replaced.
func Parse(c echo.Context) (Page, error) {
	p := Page{Limit: DefaultLimit}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Page{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("limit must be a positive integer, got %q", v))
		}
		p.Limit = min(n, MaxLimit)
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Page{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("offset must be a non-negative integer, got %q", v))
		}
		p.Offset = n
	}
	return p, nil
}

// Envelope wraps one page of a listing. Next is the URL of the following
// page and is empty on the last one.
type Envelope struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Next   string      `json:"next,omitempty"`
}

// Wrap builds the envelope for items out of total. The next link reuses
// the request URL, so other query filters carry over.
func (p Page) Wrap(u *url.URL, items interface{}, total int) Envelope {
	env := Envelope{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}
	if p.Offset+p.Limit < total {
		env.Next = p.nextURL(u)
	}
	return env
}

func (p Page) nextURL(u *url.URL) string {
	q := u.Query()
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset+p.Limit))
	next := url.URL{Path: u.Path, RawQuery: q.Encode()}
	return next.String()
}
