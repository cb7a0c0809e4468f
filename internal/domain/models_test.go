package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential_Mask(t *testing.T) {
	tests := []struct {
		name     string
		cred     Credential
		expected string
	}{
		{"long key", Credential("ABCDEFGH1234"), "ABCD…"},
		{"short key", Credential("ABC"), "***"},
		{"empty", Credential(""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cred.Mask())
		})
	}
}

func TestParseResourceKind(t *testing.T) {
	k, err := ParseResourceKind(" News_Sentiment ")
	require.NoError(t, err)
	assert.Equal(t, KindNewsSentiment, k)
	assert.True(t, k.HasPeriod())

	k, err = ParseResourceKind("overview")
	require.NoError(t, err)
	assert.False(t, k.HasPeriod())

	_, err = ParseResourceKind("earnings_calendar")
	assert.Error(t, err)
}

func TestPeriod(t *testing.T) {
	p, err := ParsePeriod("2016-02")
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2016, Month: 2}, p)
	assert.Equal(t, "2016-02", p.String())
	assert.Equal(t, time.Date(2016, 2, 29, 0, 0, 0, 0, time.UTC), p.LastDay())
	assert.Equal(t, Period{Year: 2016, Month: 3}, p.Next())
	assert.Equal(t, Period{Year: 2017, Month: 1}, Period{Year: 2016, Month: 12}.Next())

	assert.Less(t, Period{Year: 2016, Month: 12}.Ordinal(), Period{Year: 2017, Month: 1}.Ordinal())

	_, err = ParsePeriod("2016-13")
	assert.Error(t, err)
	_, err = NewPeriod(2016, 0)
	assert.Error(t, err)
}

func TestTask_KeyAndPosition(t *testing.T) {
	whole := Task{Entity: "AAPL", Kind: KindOverview}
	assert.Equal(t, "AAPL", whole.Key())
	assert.Equal(t, "", whole.PeriodString())
	assert.Equal(t, Position{Entity: "AAPL"}, whole.Position())

	monthly := Task{Entity: "AAPL", Kind: KindIntraday, Period: &Period{Year: 2016, Month: 1}}
	assert.Equal(t, "AAPL@2016-01", monthly.Key())
	assert.Equal(t, "intraday:AAPL@2016-01", monthly.String())
	assert.Equal(t, Position{Entity: "AAPL", Year: 2016, Month: 1}, monthly.Position())
}

func TestPosition_EncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		pos  Position
	}{
		{"monthly", "A,2016,1", Position{Entity: "A", Year: 2016, Month: 1}},
		{"whole history", "MSFT", Position{Entity: "MSFT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.line, tt.pos.Encode())
			got, err := DecodePosition(tt.line + "\n")
			require.NoError(t, err)
			assert.Equal(t, tt.pos, got)
		})
	}
}

func TestDecodePosition_Invalid(t *testing.T) {
	for _, line := range []string{"", "A,2016", "A,x,1", "A,2016,13", ",2016,1", "A,2016,1,extra"} {
		_, err := DecodePosition(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestOutcome(t *testing.T) {
	assert.True(t, RateLimited(nil).Retryable())
	assert.True(t, Transient(nil).Retryable())
	assert.False(t, NoData("empty").Retryable())
	assert.False(t, Success([]byte("{}")).Retryable())
	assert.False(t, AlreadyStored().Retryable())

	assert.Equal(t, "rate_limited", OutcomeRateLimited.String())
	assert.Equal(t, "unknown", OutcomeKind(99).String())
}
