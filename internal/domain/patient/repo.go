package patient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("patient not found")
	ErrInvalid  = errors.New("invalid patient")
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, params ListParams) ([]*Patient, int, error)
	Count(ctx context.Context) (int, error)
}

// SortFields are the columns a list may be ordered by.
var SortFields = map[string]bool{
	"id":            true,
	"name":          true,
	"date_of_birth": true,
	"created_at":    true,
	"updated_at":    true,
}

const MaxSearchLength = 100

type ListParams struct {
	Page      int
	Size      int
	SortBy    string
	SortOrder string
	Search    string
}

// Normalize fills defaults and validates the sort and search options.
func (p *ListParams) Normalize() error {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = 10
	}
	if p.SortBy == "" {
		p.SortBy = "id"
	}
	if !SortFields[p.SortBy] {
		return fmt.Errorf("%w: Invalid sort_by field. Must be one of: %s", ErrInvalid, strings.Join(sortFieldNames(), ", "))
	}
	p.SortOrder = strings.ToLower(p.SortOrder)
	if p.SortOrder == "" {
		p.SortOrder = "asc"
	}
	if p.SortOrder != "asc" && p.SortOrder != "desc" {
		return fmt.Errorf("%w: Invalid sort_order. Must be one of: asc, desc", ErrInvalid)
	}
	if len([]rune(p.Search)) > MaxSearchLength {
		return fmt.Errorf("%w: search must be at most %d characters", ErrInvalid, MaxSearchLength)
	}
	return nil
}

func (p ListParams) Offset() int {
	return (p.Page - 1) * p.Size
}

func sortFieldNames() []string {
	names := make([]string, 0, len(SortFields))
	for k := range SortFields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
