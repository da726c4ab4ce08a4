package pagination

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultSize = 10
	MaxSize     = 100
)

// Params holds page-based pagination parameters extracted from a request.
type Params struct {
	Page int
	Size int
}

// FromContext reads ?page and ?size. Missing values take the defaults; values
// outside page >= 1 and 1 <= size <= MaxSize are rejected with a 400.
func FromContext(c echo.Context) (Params, error) {
	p := Params{Page: 1, Size: DefaultSize}

	if v := c.QueryParam("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return Params{}, echo.NewHTTPError(http.StatusBadRequest, "page must be an integer >= 1")
		}
		p.Page = page
	}

	if v := c.QueryParam("size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 || size > MaxSize {
			return Params{}, echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("size must be an integer between 1 and %d", MaxSize))
		}
		p.Size = size
	}

	return p, nil
}

// Limit is the SQL LIMIT for the page.
func (p Params) Limit() int {
	return p.Size
}

// Offset is the SQL OFFSET for the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Size
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit(), p.Offset())
}

// Response wraps a paginated API response.
type Response struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Pages int         `json:"pages"`
}

func NewResponse(items interface{}, total int, p Params) *Response {
	return &Response{
		Items: items,
		Total: total,
		Page:  p.Page,
		Size:  p.Size,
		Pages: Pages(total, p.Size),
	}
}

// Pages is the number of pages needed to show total items; an empty result
// still has zero pages.
func Pages(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
