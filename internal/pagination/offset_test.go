package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParams_Defaults(t *testing.T) {
	p := ParseParams(0, 0)
	assert.Equal(t, 0, p.Offset)
	assert.Equal(t, DefaultLimit, p.Limit)
}

func TestParseParams_ClampsNegativeOffset(t *testing.T) {
	p := ParseParams(-5, 10)
	assert.Equal(t, 0, p.Offset)
	assert.Equal(t, 10, p.Limit)
}

func TestParseParams_ClampsOversizedLimit(t *testing.T) {
	p := ParseParams(0, 10000)
	assert.Equal(t, MaxLimit, p.Limit)
}

func TestNewPage_HasMoreTrue(t *testing.T) {
	items := []string{"a", "b", "c"}
	page := NewPage(items, Params{Offset: 0, Limit: 3}, 10)
	assert.Equal(t, 10, page.Total)
	assert.True(t, page.HasMore)
}

func TestNewPage_HasMoreFalse(t *testing.T) {
	items := []string{"a", "b"}
	page := NewPage(items, Params{Offset: 8, Limit: 10}, 10)
	assert.Equal(t, 10, page.Total)
	assert.False(t, page.HasMore)
}

func TestNewPage_Empty(t *testing.T) {
	page := NewPage([]string{}, Params{Offset: 0, Limit: 20}, 0)
	assert.Equal(t, 0, page.Total)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Items)
}
