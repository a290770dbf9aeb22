package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/drip/internal/email"
)

func makeRecords(n int) []email.Record {
	recs := make([]email.Record, n)
	for i := range recs {
		recs[i] = email.Record{ID: fmt.Sprintf("r%02d", i), Original: "o", Rewritten: "w"}
	}
	return recs
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 10, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{23, 10, 3},
		{100, 10, 10},
		{5, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalPages(tt.total, tt.size), "TotalPages(%d, %d)", tt.total, tt.size)
	}
}

func TestClampPage(t *testing.T) {
	assert.Equal(t, 1, ClampPage(0, 3))
	assert.Equal(t, 1, ClampPage(-4, 3))
	assert.Equal(t, 2, ClampPage(2, 3))
	assert.Equal(t, 3, ClampPage(99, 3))
	assert.Equal(t, 1, ClampPage(5, 0))
}

func TestPageWindow(t *testing.T) {
	tests := []struct {
		name           string
		current, total int
		want           []int
	}{
		{"single page", 1, 1, []int{1}},
		{"few pages", 2, 4, []int{1, 2, 3, 4}},
		{"exactly five", 5, 5, []int{1, 2, 3, 4, 5}},
		{"near start", 3, 10, []int{1, 2, 3, 4, 5}},
		{"first page", 1, 10, []int{1, 2, 3, 4, 5}},
		{"near end", 8, 10, []int{6, 7, 8, 9, 10}},
		{"last page", 10, 10, []int{6, 7, 8, 9, 10}},
		{"middle", 5, 10, []int{3, 4, 5, 6, 7}},
		{"middle upper", 7, 10, []int{5, 6, 7, 8, 9}},
		{"out of range clamps", 42, 10, []int{6, 7, 8, 9, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PageWindow(tt.current, tt.total))
		})
	}
}

func TestPageWindow_Properties(t *testing.T) {
	for total := 1; total <= 20; total++ {
		for cur := 1; cur <= total; cur++ {
			w := PageWindow(cur, total)
			require.Len(t, w, min(5, total))
			assert.Contains(t, w, cur)
			assert.GreaterOrEqual(t, w[0], 1)
			assert.LessOrEqual(t, w[len(w)-1], total)
			for i := 1; i < len(w); i++ {
				assert.Equal(t, w[i-1]+1, w[i], "window must be contiguous")
			}
		}
	}
}

func TestSlice(t *testing.T) {
	recs := makeRecords(23)

	page2 := Slice(recs, 2, 10)
	require.Len(t, page2, 10)
	assert.Equal(t, recs[10:20], page2)

	page3 := Slice(recs, 3, 10)
	require.Len(t, page3, 3)
	assert.Equal(t, "r20", page3[0].ID)

	assert.Equal(t, page3, Slice(recs, 9, 10), "page past the end clamps to the last page")
	assert.Nil(t, Slice(nil, 1, 10))
}
