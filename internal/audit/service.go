// Package audit reads the audit trail written by the domain services.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Repository loads audit rows.
type Repository interface {
	Timeline(ctx context.Context, q Query) ([]TimelineRow, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService builds the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit events, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return Result{}, fmt.Errorf("%w: from after to", shared.ErrInvalidInput)
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.Timeline(ctx, Query{
		From:     filters.From,
		To:       filters.To,
		ActorID:  filters.ActorID,
		Entity:   strings.TrimSpace(filters.Entity),
		EntityID: strings.TrimSpace(filters.EntityID),
		Action:   strings.TrimSpace(filters.Action),
		Offset:   (page - 1) * pageSize,
		Limit:    pageSize + 1,
	})
	if err != nil {
		return Result{}, shared.Internal("audit: timeline", err)
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// EntityHistory returns every event of one entity, newest first.
func (s *Service) EntityHistory(ctx context.Context, entity, entityID string) ([]TimelineRow, error) {
	if strings.TrimSpace(entity) == "" || strings.TrimSpace(entityID) == "" {
		return nil, fmt.Errorf("%w: entity and id required", shared.ErrInvalidInput)
	}
	rows, err := s.repo.Timeline(ctx, Query{Entity: entity, EntityID: entityID, Limit: shared.MaxLimit})
	if err != nil {
		return nil, shared.Internal("audit: entity history", err)
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return rows, nil
}
