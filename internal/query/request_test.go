package query

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampedOffsetNeverOverflows(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		size     int
		wantPage int
	}{
		{name: "ordinary", page: 7, size: 10, wantPage: 7},
		{name: "max int page", page: math.MaxInt, size: 100, wantPage: math.MaxInt / 100},
		{name: "just past the limit", page: math.MaxInt/10 + 1, size: 10, wantPage: math.MaxInt / 10},
		{name: "page size clamped first", page: math.MaxInt, size: 5000, wantPage: math.MaxInt / MaxPageSize},
		{name: "page size of one", page: math.MaxInt, size: 1, wantPage: math.MaxInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Request{Page: tt.page, PageSize: tt.size}.Clamped()

			assert.Equal(t, tt.wantPage, r.Page)
			assert.GreaterOrEqual(t, r.Offset(), 0)
			assert.Equal(t, (r.Page-1)*r.PageSize, r.Offset())
		})
	}
}

func TestRunPageFarPastTheEndIsEmpty(t *testing.T) {
	h := newHarness(t)

	page := MaxPage(10)
	h.mock.ExpectQuery("SELECT COUNT(1) FROM (SELECT id, name FROM items) AS total_count").
		WillReturnRows(h.countRows(int64(5)))
	h.mock.ExpectQuery(fmt.Sprintf("SELECT id, name FROM items LIMIT 10 OFFSET %d", (page-1)*10)).
		WillReturnRows(h.itemRows())

	env, err := h.exec.Run(context.Background(), itemsRequest("SELECT id, name FROM items", math.MaxInt, 10))
	require.NoError(t, err)

	assert.Empty(t, env.Data)
	assert.Equal(t, int64(5), env.Total)
	assert.Equal(t, page, env.Page)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}
