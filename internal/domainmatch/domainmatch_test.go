package domainmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saledrop-pipeline/internal/models"
)

func TestCandidatesOrder(t *testing.T) {
	assert.Equal(t, []string{"mail.brand.co.uk", "brand.co.uk", "brand"}, Candidates("a@mail.brand.co.uk"))
	assert.Equal(t, []string{"brand.com", "brand"}, Candidates("news@www.brand.com"))
	assert.Equal(t, []string{"brand.com", "brand"}, Candidates("Brand Newsletter <News@Brand.COM>"))
	assert.Nil(t, Candidates("not-an-address"))
}

func TestExtractAddress(t *testing.T) {
	assert.Equal(t, "news@brand.nl", ExtractAddress("Brand <news@brand.nl>"))
	assert.Equal(t, "news@brand.nl", ExtractAddress("news@brand.nl"))
	assert.Equal(t, "news@brand.nl", ExtractAddress(`"Brand, Inc" broken <news@brand.nl>`))
}

func TestMatchPrecedence(t *testing.T) {
	stores := []models.Store{
		{ID: 1, Name: "Other", Domains: []string{"other.com"}},
		{ID: 2, Name: "Brand", Domains: []string{"brand.co.uk"}},
	}

	got := Match("a@mail.brand.co.uk", stores)
	require.NotNil(t, got)
	assert.Equal(t, uint(2), got.ID)
}

func TestMatchMostSpecificWins(t *testing.T) {
	stores := []models.Store{
		{ID: 1, Name: "Root", Domains: []string{"brand"}},
		{ID: 2, Name: "Host", Domains: []string{"mail.brand.co.uk"}},
	}

	got := Match("a@mail.brand.co.uk", stores)
	require.NotNil(t, got)
	assert.Equal(t, uint(2), got.ID)
}

func TestMatchNone(t *testing.T) {
	stores := []models.Store{{ID: 1, Domains: []string{"brand.com"}}}
	assert.Nil(t, Match("a@unknown.org", stores))
	assert.Nil(t, Match("", stores))
}
