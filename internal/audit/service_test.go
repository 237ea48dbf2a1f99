package audit

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
)

type stubStore struct {
	entries    []Entry
	lastLimit  int
	lastOffset int
}

func (s *stubStore) Record(_ context.Context, entry Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubStore) RecordTx(_ context.Context, _ pgx.Tx, entry Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubStore) ListWindow(_ context.Context, _ Filters, limit, offset int) ([]Entry, error) {
	s.lastLimit = limit
	s.lastOffset = offset
	if offset >= len(s.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[offset:end], nil
}

func (s *stubStore) ListAll(_ context.Context, _ Filters) ([]Entry, error) {
	return s.entries, nil
}

func seedEntries(n int) []Entry {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			TargetIdentityID: "user_x",
			OldRole:          authz.RoleStudent,
			NewRole:          authz.RoleAdvisor,
			PerformedByID:    "admin_1",
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		})
	}
	return entries
}

func TestListDefaultsAndHasNext(t *testing.T) {
	store := &stubStore{entries: seedEntries(25)}
	svc := NewService(store)

	result, err := svc.List(context.Background(), Filters{})
	require.NoError(t, err)

	assert.Len(t, result.Entries, 20)
	assert.Equal(t, 1, result.Paging.Page)
	assert.Equal(t, 20, result.Paging.PageSize)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, 21, store.lastLimit, "window must over-fetch one row to detect a next page")
}

func TestListLastPage(t *testing.T) {
	store := &stubStore{entries: seedEntries(25)}
	svc := NewService(store)

	result, err := svc.List(context.Background(), Filters{Page: 2})
	require.NoError(t, err)

	assert.Len(t, result.Entries, 5)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
	assert.Equal(t, 20, store.lastOffset)
}

func TestListCapsPageSize(t *testing.T) {
	store := &stubStore{entries: seedEntries(80)}
	svc := NewService(store)

	result, err := svc.List(context.Background(), Filters{PageSize: 500})
	require.NoError(t, err)

	assert.Equal(t, 50, result.Paging.PageSize)
	assert.Len(t, result.Entries, 50)
}

func TestExportReturnsEverything(t *testing.T) {
	store := &stubStore{entries: seedEntries(75)}
	svc := NewService(store)

	entries, err := svc.Export(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Len(t, entries, 75)
}
