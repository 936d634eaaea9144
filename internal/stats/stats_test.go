package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_Empty(t *testing.T) {
	assert.True(t, Batch{}.Empty())
	assert.False(t, Batch{Upstream: []UpstreamChannel{{ChannelID: 1}}}.Empty())
	assert.False(t, Batch{Downstream: []DownstreamChannel{{ChannelID: 1}}}.Empty())
	assert.Equal(t, 2, Batch{
		Downstream: []DownstreamChannel{{ChannelID: 1}},
		Upstream:   []UpstreamChannel{{ChannelID: 1}},
	}.Len())
}

func TestUnitStripping(t *testing.T) {
	hz, err := Hz("507000000 Hz", " Hz")
	require.NoError(t, err)
	assert.Equal(t, int64(507000000), hz)

	hz, err = Hz(" 501000000.0 ")
	require.NoError(t, err)
	assert.Equal(t, int64(501000000), hz)

	power, err := Float("-1.4 dBmV", " dBmV")
	require.NoError(t, err)
	assert.Equal(t, -1.4, power)

	snr, err := Float("40.9 dB", " dB")
	require.NoError(t, err)
	assert.Equal(t, 40.9, snr)

	n, err := Int(" 1234 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)

	_, err = Int("n/a")
	assert.Error(t, err)
}

func TestMHz(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"507 MHz", 507000000},
		{"35.6 MHz", 35600000},
		{"  16.4  MHz ", 16400000},
		{"813", 813000000},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := MHz(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := MHz("NaN MHz")
	assert.Error(t, err)
}

func TestIsDigits(t *testing.T) {
	assert.True(t, IsDigits("12"))
	assert.False(t, IsDigits(""))
	assert.False(t, IsDigits("-1"))
	assert.False(t, IsDigits("Channel"))
	assert.False(t, IsDigits("1.5"))
}
