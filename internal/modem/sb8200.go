package modem

import (
	"bytes"
	"context"
	"encoding/base64"
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
	sb8200StatusPath = "/cmconnectionstatus.html"

	// Served instead of the status page when the session is not valid.
	loginPageMarker = "Password:"

	// Some firmware closes the caption row of both channel tables twice.
	sb8200BrokenCaption = "Bonded Channels</strong></th></tr>"
	sb8200FixedCaption  = "Bonded Channels</strong></th>"
)

// SB8200 is the Arris SB8200. The status page is optionally protected by
// HTTP Basic auth (legacy) or by a base64 login query plus session cookie
// (new auth).
type SB8200 struct {
	settings Settings
	client   *resty.Client
}

func NewSB8200(s Settings, hc *http.Client) *SB8200 {
	return &SB8200{
		settings: s,
		client:   resty.NewWithClient(hc).SetDisableWarn(true),
	}
}

func (m *SB8200) Model() Model { return ModelSB8200 }

func (m *SB8200) AuthRequired() bool { return m.settings.AuthRequired }

func (m *SB8200) statusURL() string {
	scheme := "http"
	if m.settings.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, m.settings.IP, sb8200StatusPath)
}

func (m *SB8200) Authenticate(ctx context.Context) (Credential, error) {
	log.Infoln("Obtaining login session from modem")

	statusURL := m.statusURL()
	// The login page's javascript sends the pair base64 encoded in the query.
	authHash := base64.StdEncoding.EncodeToString([]byte(m.settings.Username + ":" + m.settings.Password))

	req := m.client.R().SetContext(ctx)
	var authURL string
	if m.settings.NewAuth {
		authURL = statusURL + "?login_" + authHash
		req.SetHeader("Authorization", "Basic "+authHash)
	} else {
		authURL = statusURL + "?" + authHash
		req.SetBasicAuth(m.settings.Username, m.settings.Password)
	}
	log.Debugf("auth_url: %s", authURL)

	resp, err := req.Get(authURL)
	if err != nil {
		return nil, &AuthError{URL: statusURL, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &AuthError{URL: statusURL, StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	token := string(resp.Body())
	if strings.Contains(token, loginPageMarker) {
		return nil, &AuthError{URL: statusURL, StatusCode: resp.StatusCode(), Reason: "received login page"}
	}

	cred := TokenCredential{Token: token}
	if m.settings.NewAuth {
		cookie := findCookie(resp.Cookies(), "sessionId")
		if cookie == nil {
			return nil, &AuthError{URL: statusURL, StatusCode: resp.StatusCode(), Reason: "no sessionId cookie in response"}
		}
		log.Debugf("cookie: %s", cookie.Value)
		cred.SessionID = cookie.Value
	}
	return cred, nil
}

func (m *SB8200) FetchRaw(ctx context.Context, cred Credential) (Payload, error) {
	statusURL := m.statusURL()
	fetchURL := statusURL

	req := m.client.R().SetContext(ctx)
	if m.settings.AuthRequired {
		token, ok := cred.(TokenCredential)
		if !ok {
			return nil, &FetchError{Reason: ReasonSessionExpired, URL: statusURL, Err: fmt.Errorf("unexpected credential %T", cred)}
		}
		if m.settings.NewAuth {
			fetchURL = statusURL + "?ct_" + token.Token
			req.SetCookie(&http.Cookie{Name: "sessionId", Value: token.SessionID})
		} else {
			req.SetCookie(&http.Cookie{Name: "credential", Value: token.Token})
		}
	}
	log.Debugf("url: %s", fetchURL)
	log.Infof("Retrieving stats from %s", statusURL)

	resp, err := req.Get(fetchURL)
	if err != nil {
		return nil, &FetchError{Reason: ReasonNetworkError, URL: fetchURL, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &FetchError{Reason: ReasonHTTPStatus, URL: fetchURL, StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	body := resp.Body()
	if bytes.Contains(body, []byte(loginPageMarker)) {
		if !m.settings.AuthRequired {
			log.Warnln("modem_auth_required is false, but a login page was detected!")
		}
		return nil, &FetchError{Reason: ReasonSessionExpired, URL: fetchURL, StatusCode: resp.StatusCode()}
	}
	return Payload(body), nil
}

func (m *SB8200) Parse(raw Payload) (stats.Batch, error) {
	return parseSB8200(string(raw))
}

func parseSB8200(page string) (stats.Batch, error) {
	page = strings.Replace(page, sb8200BrokenCaption, sb8200FixedCaption, 2)

	tables, err := htmltable.Parse(strings.NewReader(page))
	if err != nil {
		return stats.Batch{}, parseErrorf(ModelSB8200, err, "reading html")
	}
	if len(tables) < 3 {
		return stats.Batch{}, parseErrorf(ModelSB8200, nil, "expected at least 3 tables, found %d", len(tables))
	}

	batch := stats.Batch{
		Downstream: []stats.DownstreamChannel{},
		Upstream:   []stats.UpstreamChannel{},
	}

	// channelID deliberately outlives the downstream loop, see below.
	var channelID string

	for _, row := range tables[1].Rows {
		if row.Header || len(row.Cells) == 0 {
			continue
		}

		channelID = row.Cells[0]
		// Some firmwares have a header row made of plain cells.
		if !stats.IsDigits(channelID) {
			continue
		}
		if len(row.Cells) < 8 {
			return stats.Batch{}, parseErrorf(ModelSB8200, nil, "downstream row has %d cells, want 8", len(row.Cells))
		}

		ch, err := sb8200Downstream(channelID, row.Cells)
		if err != nil {
			return stats.Batch{}, parseErrorf(ModelSB8200, err, "downstream channel %s", channelID)
		}
		batch.Downstream = append(batch.Downstream, ch)
	}

	for _, row := range tables[2].Rows {
		if row.Header || len(row.Cells) == 0 {
			continue
		}
		// The digit check runs against the id of the previous row (the last
		// downstream row for the first upstream row) before this row's id is
		// read. Once a non-numeric id has been seen, every following row is
		// skipped. Kept as is to match the reference collector's output.
		if !stats.IsDigits(channelID) {
			continue
		}
		if len(row.Cells) < 7 {
			return stats.Batch{}, parseErrorf(ModelSB8200, nil, "upstream row has %d cells, want 7", len(row.Cells))
		}

		channelID = row.Cells[1]
		if !stats.IsDigits(channelID) {
			continue
		}

		ch, err := sb8200Upstream(channelID, row.Cells)
		if err != nil {
			return stats.Batch{}, parseErrorf(ModelSB8200, err, "upstream channel %s", channelID)
		}
		batch.Upstream = append(batch.Upstream, ch)
	}

	return batch, nil
}

func sb8200Downstream(channelID string, cells []string) (ch stats.DownstreamChannel, err error) {
	if ch.ChannelID, err = strconv.Atoi(channelID); err != nil {
		return ch, err
	}
	ch.Modulation = stats.Modulation(strings.TrimSpace(strings.Replace(cells[2], "Other", string(stats.ModulationOFDMPLC), -1)))
	if ch.FrequencyHz, err = stats.Hz(cells[3], " Hz"); err != nil {
		return ch, err
	}
	if ch.PowerDBmV, err = stats.Float(cells[4], " dBmV"); err != nil {
		return ch, err
	}
	if ch.SNRdB, err = stats.Float(cells[5], " dB"); err != nil {
		return ch, err
	}
	if ch.Corrected, err = stats.Int(cells[6]); err != nil {
		return ch, err
	}
	if ch.Uncorrectables, err = stats.Int(cells[7]); err != nil {
		return ch, err
	}
	return ch, nil
}

func sb8200Upstream(channelID string, cells []string) (ch stats.UpstreamChannel, err error) {
	if ch.ChannelID, err = strconv.Atoi(channelID); err != nil {
		return ch, err
	}
	channelType := strings.TrimSpace(strings.Replace(cells[3], " Upstream", "", -1))
	if channelType == "OFDM" {
		channelType = string(stats.ChannelTypeOFDMA)
	}
	ch.ChannelType = stats.ChannelType(channelType)
	if ch.FrequencyHz, err = stats.Hz(cells[4], " Hz"); err != nil {
		return ch, err
	}
	if ch.Width, err = stats.Hz(cells[5], " Hz"); err != nil {
		return ch, err
	}
	if ch.PowerDBmV, err = stats.Float(cells[6], " dBmV"); err != nil {
		return ch, err
	}
	return ch, nil
}
