package ucum

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCanonicalizer(t *testing.T) *Canonicalizer {
	t.Helper()
	c, err := New(32)
	require.NoError(t, err)
	return c
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		code     string
		value    string
		wantCode string
		want     string
	}{
		{"g", "5", "g", "5"},
		{"mg", "5", "g", "0.005"},
		{"kg", "72.5", "g", "72500"},
		{"ug", "250", "g", "0.00025"},
		{"mm[Hg]", "120", "g.m-1.s-2", "15998640"},
		{"mg/dL", "100", "g.m-3", "1000"},
		{"kg/m2", "22", "g.m-2", "22000"},
		{"10*9/L", "5", "m-3", "5000000000000"},
		{"/min", "60", "s-1", "1"},
		{"{beats}/min", "120", "s-1", "2"},
		{"%", "50", "1", "0.5"},
		{"cm", "180", "m", "1.8"},
		{"[in_i]", "10", "m", "0.254"},
		{"m2", "3", "m2", "3"},
		{"mL", "5", "m3", "0.000005"},
		{"h", "2", "s", "7200"},
		{"Cel", "37", "K", "310.15"},
		{"[degF]", "212", "K", "373.15"},
		{"(mg.L-1)", "2", "g.m-3", "2"},
	}
	c := newCanonicalizer(t)
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			code, value, err := c.Canonicalize(tt.code, decimal.RequireFromString(tt.value))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, code)
			assert.True(t, value.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", value, tt.want)
		})
	}
}

func TestCanonicalize_EquivalentUnitsAgree(t *testing.T) {
	c := newCanonicalizer(t)
	codeA, a, err := c.Canonicalize("mg", decimal.NewFromInt(1000))
	require.NoError(t, err)
	codeB, b, err := c.Canonicalize("g", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, codeA, codeB)
	assert.True(t, a.Equal(b))
}

func TestCanonicalize_Errors(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"furlong", ErrUnknownUnit},
		{"mcg", ErrUnknownUnit},
		{"Cel/min", ErrSpecialUnit},
		{"", ErrSyntax},
		{"mg(", ErrSyntax},
		{"(mg", ErrSyntax},
		{"mg{dry", ErrSyntax},
		{"10*", ErrSyntax},
	}
	c := newCanonicalizer(t)
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, _, err := c.Canonicalize(tt.code, decimal.NewFromInt(1))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var convErr *ConversionError
			if assert.ErrorAs(t, err, &convErr) {
				assert.Equal(t, tt.code, convErr.Code)
			}
		})
	}
}

func TestCanonicalize_CachesParsedUnits(t *testing.T) {
	c := newCanonicalizer(t)
	_, _, err := c.Canonicalize("mg/dL", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, _, err = c.Canonicalize("mg/dL", decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.Equal(t, 1, c.cache.Len())
}
