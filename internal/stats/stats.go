// Package stats holds the vendor-neutral channel readings produced by every
// modem adapter.
package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Modulation string

const (
	ModulationQAM64   Modulation = "QAM64"
	ModulationQAM256  Modulation = "QAM256"
	ModulationOFDMPLC Modulation = "OFDM PLC"
)

type ChannelType string

const (
	ChannelTypeATDMA ChannelType = "ATDMA"
	ChannelTypeTDMA  ChannelType = "TDMA"
	ChannelTypeOFDMA ChannelType = "OFDMA"
	ChannelTypeSCQAM ChannelType = "SC-QAM"
)

type DownstreamChannel struct {
	ChannelID      int
	Modulation     Modulation
	FrequencyHz    int64
	PowerDBmV      float64
	SNRdB          float64
	Corrected      int64
	Uncorrectables int64
	// Unerrored is only reported by some device families (XB8).
	Unerrored *int64
}

type UpstreamChannel struct {
	ChannelID   int
	ChannelType ChannelType
	FrequencyHz int64
	// Width is whatever the device reports: Hz on SB8200 and S33, symbol
	// rate in ksym/s on XB8. Units are not normalized across families.
	Width     int64
	PowerDBmV float64
}

// Batch is one poll's worth of readings. A batch with no channels at all is
// never a valid reading.
type Batch struct {
	Downstream []DownstreamChannel
	Upstream   []UpstreamChannel
}

func (b Batch) Empty() bool {
	return len(b.Downstream) == 0 && len(b.Upstream) == 0
}

func (b Batch) Len() int {
	return len(b.Downstream) + len(b.Upstream)
}

// Int parses a counter cell after removing the given unit suffixes.
func Int(raw string, units ...string) (int64, error) {
	return strconv.ParseInt(clean(raw, units), 10, 64)
}

// Float parses a level cell ("1.2 dBmV") after removing the given unit
// suffixes.
func Float(raw string, units ...string) (float64, error) {
	return strconv.ParseFloat(clean(raw, units), 64)
}

// Hz parses a frequency. Values are read as floats and truncated, so
// "501000000" and "501000000.0" both work.
func Hz(raw string, units ...string) (int64, error) {
	f, err := strconv.ParseFloat(clean(raw, units), 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// MHz converts a "507 MHz" style cell to Hz.
func MHz(raw string) (int64, error) {
	f, err := strconv.ParseFloat(clean(raw, []string{" MHz", "MHz"}), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid frequency %q", raw)
	}
	return int64(math.Round(f * 1e6)), nil
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func clean(raw string, units []string) string {
	for _, u := range units {
		raw = strings.Replace(raw, u, "", -1)
	}
	return strings.TrimSpace(raw)
}
