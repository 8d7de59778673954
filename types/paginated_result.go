package types

import "math"

// PaginationResult is one page of a listing. Page is 1-based.
type PaginationResult[T any] struct {
	Items           []T  `json:"items"`
	TotalItems      int  `json:"total_items"`
	Page            int  `json:"page"`
	PageSize        int  `json:"page_size"`
	TotalPages      int  `json:"total_pages"`
	HasNextPage     bool `json:"has_next_page"`
	HasPreviousPage bool `json:"has_previous_page"`
}

// NewPaginationResult derives the page counters from totalItems.
func NewPaginationResult[T any](items []T, totalItems, page, pageSize int) *PaginationResult[T] {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}
	return &PaginationResult[T]{
		Items:           items,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

// MapPage converts the items of a page, keeping its counters.
func MapPage[T, U any](p *PaginationResult[T], fn func(*T) U) *PaginationResult[U] {
	items := make([]U, len(p.Items))
	for i := range p.Items {
		items[i] = fn(&p.Items[i])
	}
	return &PaginationResult[U]{
		Items:           items,
		TotalItems:      p.TotalItems,
		Page:            p.Page,
		PageSize:        p.PageSize,
		TotalPages:      p.TotalPages,
		HasNextPage:     p.HasNextPage,
		HasPreviousPage: p.HasPreviousPage,
	}
}
