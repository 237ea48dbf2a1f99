package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EntryStore mendefinisikan akses persistence yang dibutuhkan service.
type EntryStore interface {
	Record(ctx context.Context, entry Entry) error
	RecordTx(ctx context.Context, tx pgx.Tx, entry Entry) error
	ListWindow(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
	ListAll(ctx context.Context, f Filters) ([]Entry, error)
}

// Service mengoordinasikan penulisan dan pembacaan riwayat perubahan role.
type Service struct {
	store EntryStore
}

// NewService membuat service audit baru.
func NewService(store EntryStore) *Service {
	return &Service{store: store}
}

// Record menambahkan satu entri riwayat.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if s.store == nil {
		return fmt.Errorf("audit: store not configured")
	}
	return s.store.Record(ctx, entry)
}

// RecordTx menambahkan entri riwayat dalam transaksi penulisan role record.
func (s *Service) RecordTx(ctx context.Context, tx pgx.Tx, entry Entry) error {
	if s.store == nil {
		return fmt.Errorf("audit: store not configured")
	}
	return s.store.RecordTx(ctx, tx, entry)
}

// List mengambil riwayat dengan paging, terbaru lebih dulu.
func (s *Service) List(ctx context.Context, filters Filters) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("audit: store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.store.ListWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// Export mengambil seluruh riwayat yang cocok tanpa paging.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Entry, error) {
	if s.store == nil {
		return nil, fmt.Errorf("audit: store not configured")
	}
	return s.store.ListAll(ctx, filters)
}
