package parse

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "pricescraper/pkg/errors"
)

func TestParseBRL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"with prefix", "R$ 12.345,67", "12345.67"},
		{"no space after prefix", "R$12.345,67", "12345.67"},
		{"non breaking space", "R$\u00a045.900,00", "45900"},
		{"millions", "R$ 1.234.567,89", "1234567.89"},
		{"no grouping", "R$ 9800,5", "9800.5"},
		{"bare integer", "15000", "15000"},
		{"surrounding whitespace", "  R$ 7.000,00  ", "7000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBRL(tt.in)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseBRLRejectsMalformed(t *testing.T) {
	inputs := []string{
		"",
		"R$",
		"R$ abc",
		"R$ 12,345.67",
		"R$ 1.23,00",
		"R$ 0,00",
		"US$ 100,00",
		"R$ -5,00",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := ParseBRL(in)
			require.Error(t, err)
			assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
		})
	}
}

func TestFormatBRL(t *testing.T) {
	assert.Equal(t, "R$ 12.345,67", FormatBRL(decimal.RequireFromString("12345.67")))
	assert.Equal(t, "R$ 999,00", FormatBRL(decimal.RequireFromString("999")))
	assert.Equal(t, "R$ 1.000.000,50", FormatBRL(decimal.RequireFromString("1000000.5")))

	round, err := ParseBRL(FormatBRL(decimal.RequireFromString("45123.4")))
	require.NoError(t, err)
	assert.Equal(t, "45123.4", round.String())
}

func TestParseMonthLabel(t *testing.T) {
	tests := []struct {
		in        string
		wantMonth time.Month
		wantYear  int
	}{
		{"Janeiro/2026", time.January, 2026},
		{"Março/2025", time.March, 2025},
		{"marco/2025", time.March, 2025},
		{"MARÇO / 2025", time.March, 2025},
		{"Outubro/2026", time.October, 2026},
		{"dez/24", time.December, 2024},
		{" Fevereiro/2024 ", time.February, 2024},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			month, year, err := ParseMonthLabel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMonth, month)
			assert.Equal(t, tt.wantYear, year)
		})
	}
}

func TestParseMonthLabelErrors(t *testing.T) {
	for _, in := range []string{"", "Março 2025", "Marchy/2025", "Abril/vinte", "Maio/12345"} {
		t.Run(in, func(t *testing.T) {
			_, _, err := ParseMonthLabel(in)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrorTypeParsing))
		})
	}
}
