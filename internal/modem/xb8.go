package modem

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/common/log"

	"github.com/sarabveer/cable-modem-stats/internal/htmltable"
	"github.com/sarabveer/cable-modem-stats/internal/stats"
)

const (
	xb8LoginPath  = "/check.jst"
	xb8StatusPath = "/network_setup.jst"
)

// Row indexes inside the tbody of the XB8 tables. The first row always
// carries the channel ids, one channel per column.
const (
	xb8RowChannelID = 0

	xb8DownRowFrequency  = 2
	xb8DownRowSNR        = 3
	xb8DownRowPower      = 4
	xb8DownRowModulation = 5

	xb8UpRowFrequency   = 2
	xb8UpRowSymbolRate  = 3
	xb8UpRowPower       = 4
	xb8UpRowModulation  = 5
	xb8UpRowChannelType = 6

	xb8CodewordRowUnerrored      = 1
	xb8CodewordRowCorrected      = 2
	xb8CodewordRowUncorrectables = 3
)

// XB8 is the Comcast XB8 gateway: form login, session cookies and a status
// page of column-oriented tables.
type XB8 struct {
	settings Settings
	client   *resty.Client
}

func NewXB8(s Settings, hc *http.Client) *XB8 {
	client := resty.NewWithClient(hc)
	// Login success is a redirect, and an expired session redirects the
	// status page, so redirects are never followed.
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	return &XB8{settings: s, client: client}
}

func (m *XB8) Model() Model { return ModelXB8 }

func (m *XB8) AuthRequired() bool { return true }

func (m *XB8) url(path string) string {
	return fmt.Sprintf("http://%s%s", m.settings.IP, path)
}

func (m *XB8) Authenticate(ctx context.Context) (Credential, error) {
	log.Infoln("Obtaining login session from modem")

	loginURL := m.url(xb8LoginPath)
	log.Debugf("login url: %s", loginURL)

	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": m.settings.Username,
			"password": m.settings.Password,
			"locale":   "False",
		}).
		Post(loginURL)
	if err != nil {
		return nil, &AuthError{URL: loginURL, Err: err}
	}
	if resp.StatusCode() != http.StatusFound {
		return nil, &AuthError{URL: loginURL, StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	return CookieCredential{Cookies: resp.Cookies()}, nil
}

func (m *XB8) FetchRaw(ctx context.Context, cred Credential) (Payload, error) {
	statusURL := m.url(xb8StatusPath)

	jar, ok := cred.(CookieCredential)
	if !ok {
		return nil, &FetchError{Reason: ReasonSessionExpired, URL: statusURL, Err: fmt.Errorf("unexpected credential %T", cred)}
	}

	log.Infof("Retrieving stats from %s", statusURL)
	resp, err := m.client.R().
		SetContext(ctx).
		SetCookies(jar.Cookies).
		Get(statusURL)
	if err != nil {
		return nil, &FetchError{Reason: ReasonNetworkError, URL: statusURL, Err: err}
	}
	if code := resp.StatusCode(); code >= 300 && code < 400 {
		return nil, &FetchError{Reason: ReasonSessionExpired, URL: statusURL, StatusCode: code, Status: resp.Status(),
			Err: fmt.Errorf("redirected to %s", resp.Header().Get("Location"))}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &FetchError{Reason: ReasonHTTPStatus, URL: statusURL, StatusCode: resp.StatusCode(), Status: resp.Status()}
	}
	return Payload(resp.Body()), nil
}

func (m *XB8) Parse(raw Payload) (stats.Batch, error) {
	return parseXB8(string(raw))
}

// parseXB8 reads the channel bonding tables (downstream first, upstream
// second) and the codeword table, which lists the same downstream channels
// in an order of its own.
func parseXB8(page string) (stats.Batch, error) {
	tables, err := htmltable.Parse(strings.NewReader(page))
	if err != nil {
		return stats.Batch{}, parseErrorf(ModelXB8, err, "reading html")
	}
	if len(tables) < 3 {
		return stats.Batch{}, parseErrorf(ModelXB8, nil, "expected at least 3 tables, found %d", len(tables))
	}

	batch := stats.Batch{
		Downstream: []stats.DownstreamChannel{},
		Upstream:   []stats.UpstreamChannel{},
	}

	down := tables[0].Body
	if len(down) <= xb8DownRowModulation {
		return stats.Batch{}, parseErrorf(ModelXB8, nil, "downstream table has %d rows", len(down))
	}
	byID := map[string]int{}
	for i, rawID := range down[xb8RowChannelID].Cells {
		ch, err := xb8Downstream(down, i)
		if err != nil {
			return stats.Batch{}, parseErrorf(ModelXB8, err, "downstream channel %s", rawID)
		}
		byID[rawID] = len(batch.Downstream)
		batch.Downstream = append(batch.Downstream, ch)
	}

	codewords := tables[2].Body
	if len(codewords) <= xb8CodewordRowUncorrectables {
		return stats.Batch{}, parseErrorf(ModelXB8, nil, "codeword table has %d rows", len(codewords))
	}
	for i, rawID := range codewords[xb8RowChannelID].Cells {
		idx, ok := byID[rawID]
		if !ok {
			log.Warnf("codeword table lists channel %s which is not in the downstream table, skipping", rawID)
			continue
		}
		ch := &batch.Downstream[idx]
		unerrored, err := xb8Int(codewords[xb8CodewordRowUnerrored], i)
		if err != nil {
			return stats.Batch{}, parseErrorf(ModelXB8, err, "unerrored codewords for channel %s", rawID)
		}
		ch.Unerrored = &unerrored
		if ch.Corrected, err = xb8Int(codewords[xb8CodewordRowCorrected], i); err != nil {
			return stats.Batch{}, parseErrorf(ModelXB8, err, "corrected codewords for channel %s", rawID)
		}
		if ch.Uncorrectables, err = xb8Int(codewords[xb8CodewordRowUncorrectables], i); err != nil {
			return stats.Batch{}, parseErrorf(ModelXB8, err, "uncorrectable codewords for channel %s", rawID)
		}
	}

	// a channel without codeword counts would report zeroed counters
	joined := batch.Downstream[:0]
	for _, ch := range batch.Downstream {
		if ch.Unerrored == nil {
			log.Warnf("downstream channel %d has no codeword counts, skipping", ch.ChannelID)
			continue
		}
		joined = append(joined, ch)
	}
	batch.Downstream = joined

	up := tables[1].Body
	if len(up) <= xb8UpRowChannelType {
		return stats.Batch{}, parseErrorf(ModelXB8, nil, "upstream table has %d rows", len(up))
	}
	for i, rawID := range up[xb8RowChannelID].Cells {
		ch, err := xb8Upstream(up, i)
		if err != nil {
			return stats.Batch{}, parseErrorf(ModelXB8, err, "upstream channel %s", rawID)
		}
		batch.Upstream = append(batch.Upstream, ch)
	}

	return batch, nil
}

func xb8Downstream(rows []htmltable.Row, i int) (ch stats.DownstreamChannel, err error) {
	cell := func(row int) string {
		v, _ := rows[row].Cell(i)
		return v
	}

	if ch.ChannelID, err = strconv.Atoi(cell(xb8RowChannelID)); err != nil {
		return ch, err
	}
	if ch.SNRdB, err = stats.Float(cell(xb8DownRowSNR), " dB"); err != nil {
		return ch, err
	}
	if ch.PowerDBmV, err = stats.Float(cell(xb8DownRowPower), " dBmV"); err != nil {
		return ch, err
	}

	switch modulation := cell(xb8DownRowModulation); modulation {
	case "OFDM":
		ch.Modulation = stats.ModulationOFDMPLC
	case "256 QAM":
		ch.Modulation = stats.ModulationQAM256
	default:
		ch.Modulation = stats.Modulation(modulation)
	}

	frequency := cell(xb8DownRowFrequency)
	if strings.Contains(frequency, "MHz") {
		ch.FrequencyHz, err = stats.MHz(frequency)
	} else {
		ch.FrequencyHz, err = stats.Hz(frequency)
	}
	return ch, err
}

func xb8Upstream(rows []htmltable.Row, i int) (ch stats.UpstreamChannel, err error) {
	cell := func(row int) string {
		v, _ := rows[row].Cell(i)
		return v
	}

	if ch.ChannelID, err = strconv.Atoi(cell(xb8RowChannelID)); err != nil {
		return ch, err
	}
	if ch.FrequencyHz, err = stats.MHz(cell(xb8UpRowFrequency)); err != nil {
		return ch, err
	}
	// Symbol rate in ksym/s, reported as the channel width.
	if ch.Width, err = stats.Int(cell(xb8UpRowSymbolRate)); err != nil {
		return ch, err
	}
	if ch.PowerDBmV, err = stats.Float(cell(xb8UpRowPower), " dBmV"); err != nil {
		return ch, err
	}

	switch channelType := cell(xb8UpRowModulation) + "-" + cell(xb8UpRowChannelType); channelType {
	case "OFDMA-TDMA":
		ch.ChannelType = stats.ChannelTypeOFDMA
	case "QAM-ATDMA":
		ch.ChannelType = stats.ChannelTypeSCQAM
	default:
		ch.ChannelType = stats.ChannelType(channelType)
	}
	return ch, nil
}

func xb8Int(row htmltable.Row, i int) (int64, error) {
	v, ok := row.Cell(i)
	if !ok {
		return 0, fmt.Errorf("missing column %d", i)
	}
	return stats.Int(v)
}
