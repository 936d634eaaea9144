package modem

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/common/log"

	"github.com/sarabveer/cable-modem-stats/internal/stats"
)

const (
	hnapRowSeparator   = "|+|"
	hnapFieldSeparator = "^"

	s33DownstreamFields = 10
	s33UpstreamFields   = 8
)

type hnapLoginRequest struct {
	Login hnapLogin `json:"Login"`
}

type hnapLogin struct {
	Action        string `json:"Action"`
	Username      string `json:"Username"`
	LoginPassword string `json:"LoginPassword"`
	Captcha       string `json:"Captcha"`
	PrivateLogin  string `json:"PrivateLogin"`
}

type hnapMultipleRequest struct {
	GetMultipleHNAPs hnapChannelInfo `json:"GetMultipleHNAPs"`
}

type hnapChannelInfo struct {
	Downstream string `json:"GetCustomerStatusDownstreamChannelInfo"`
	Upstream   string `json:"GetCustomerStatusUpstreamChannelInfo"`
}

// S33 is the Arris S33, managed over HNAP (JSON SOAP) with an HMAC-MD5
// challenge/response login.
type S33 struct {
	settings Settings
	client   *resty.Client
	now      func() time.Time
}

func NewS33(s Settings, hc *http.Client) *S33 {
	return &S33{
		settings: s,
		client:   resty.NewWithClient(hc),
		now:      time.Now,
	}
}

func (m *S33) Model() Model { return ModelS33 }

func (m *S33) AuthRequired() bool { return true }

func (m *S33) hnapURL() string {
	return fmt.Sprintf("https://%s%s", m.settings.IP, hnapPath)
}

func (m *S33) request(ctx context.Context, soapAction, privateKey string) *resty.Request {
	return m.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeaderVerbatim("SOAPACTION", soapAction).
		SetHeaderVerbatim("HNAP_AUTH", hnapAuth(privateKey, soapAction, m.now()))
}

func (m *S33) Authenticate(ctx context.Context) (Credential, error) {
	log.Infoln("Obtaining login session from modem")

	hnapURL := m.hnapURL()
	payload := hnapLoginRequest{Login: hnapLogin{
		Action:       "request",
		Username:     m.settings.Username,
		PrivateLogin: m.settings.Password,
	}}

	resp, err := m.request(ctx, hnapLoginAction, "").SetBody(payload).Post(hnapURL)
	if err != nil {
		return nil, &AuthError{URL: hnapURL, Reason: "login request", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &AuthError{URL: hnapURL, StatusCode: resp.StatusCode(), Status: resp.Status(), Reason: "login request"}
	}

	challenge, err := gabs.ParseJSON(resp.Body())
	if err != nil {
		return nil, &AuthError{URL: hnapURL, Reason: "login request", Err: err}
	}
	publicKey, okKey := challenge.Search("LoginResponse", "PublicKey").Data().(string)
	uid, okUID := challenge.Search("LoginResponse", "Cookie").Data().(string)
	challengeMsg, okMsg := challenge.Search("LoginResponse", "Challenge").Data().(string)
	if !okKey || !okUID || !okMsg {
		return nil, &AuthError{URL: hnapURL, Reason: "login request: incomplete challenge in response"}
	}

	privateKey := arrisHMAC(publicKey+m.settings.Password, challengeMsg)
	payload.Login.Action = "login"
	payload.Login.LoginPassword = arrisHMAC(privateKey, challengeMsg)

	resp, err = m.request(ctx, hnapLoginAction, privateKey).
		SetHeaderVerbatim("Cookie", hnapCookie(uid, privateKey)).
		SetBody(payload).
		Post(hnapURL)
	if err != nil {
		return nil, &AuthError{URL: hnapURL, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &AuthError{URL: hnapURL, StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	result, err := gabs.ParseJSON(resp.Body())
	if err != nil {
		return nil, &AuthError{URL: hnapURL, Err: err}
	}
	if loginResult, _ := result.Search("LoginResponse", "LoginResult").Data().(string); loginResult != "OK" {
		return nil, &AuthError{URL: hnapURL, Reason: fmt.Sprintf("got %q login result (expecting OK)", loginResult)}
	}

	return KeyPairCredential{UID: uid, PublicKey: publicKey, PrivateKey: privateKey}, nil
}

func (m *S33) FetchRaw(ctx context.Context, cred Credential) (Payload, error) {
	hnapURL := m.hnapURL()

	keys, ok := cred.(KeyPairCredential)
	if !ok {
		return nil, &FetchError{Reason: ReasonSessionExpired, URL: hnapURL, Err: fmt.Errorf("unexpected credential %T", cred)}
	}

	log.Infof("Retrieving stats from %s", hnapURL)
	resp, err := m.request(ctx, hnapMultipleAction, keys.PrivateKey).
		SetHeaderVerbatim("Cookie", hnapCookie(keys.UID, keys.PrivateKey)).
		SetBody(hnapMultipleRequest{}).
		Post(hnapURL)
	if err != nil {
		return nil, &FetchError{Reason: ReasonNetworkError, URL: hnapURL, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &FetchError{Reason: ReasonHTTPStatus, URL: hnapURL, StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	body, err := gabs.ParseJSON(resp.Body())
	if err != nil {
		return nil, &FetchError{Reason: ReasonBadResponse, URL: hnapURL, StatusCode: resp.StatusCode(), Err: err}
	}
	multiple := body.Search("GetMultipleHNAPsResponse")
	if multiple == nil {
		return nil, &FetchError{Reason: ReasonBadResponse, URL: hnapURL, StatusCode: resp.StatusCode(),
			Err: fmt.Errorf("no GetMultipleHNAPsResponse in body")}
	}
	// an expired session still answers 200 with the envelope, but the result
	// is "UN-AUTH" and the channel tables are missing
	if result, _ := multiple.Search("GetMultipleHNAPsResult").Data().(string); result != "OK" {
		return nil, &FetchError{Reason: ReasonSessionExpired, URL: hnapURL, StatusCode: resp.StatusCode(),
			Err: fmt.Errorf("got %q GetMultipleHNAPs result (expecting OK)", result)}
	}
	return Payload(multiple.Bytes()), nil
}

func (m *S33) Parse(raw Payload) (stats.Batch, error) {
	return parseS33(raw)
}

func parseS33(raw []byte) (stats.Batch, error) {
	doc, err := gabs.ParseJSON(raw)
	if err != nil {
		return stats.Batch{}, parseErrorf(ModelS33, err, "reading json")
	}

	downTable, ok := doc.Search("GetCustomerStatusDownstreamChannelInfoResponse", "CustomerConnDownstreamChannel").Data().(string)
	if !ok {
		return stats.Batch{}, parseErrorf(ModelS33, nil, "no downstream channel table")
	}
	upTable, ok := doc.Search("GetCustomerStatusUpstreamChannelInfoResponse", "CustomerConnUpstreamChannel").Data().(string)
	if !ok {
		return stats.Batch{}, parseErrorf(ModelS33, nil, "no upstream channel table")
	}

	batch := stats.Batch{
		Downstream: []stats.DownstreamChannel{},
		Upstream:   []stats.UpstreamChannel{},
	}

	for _, row := range splitHNAPTable(downTable) {
		fields := strings.Split(row, hnapFieldSeparator)
		if len(fields) != s33DownstreamFields {
			return stats.Batch{}, parseErrorf(ModelS33, nil, "downstream row %q has %d fields, want %d", row, len(fields), s33DownstreamFields)
		}
		ch, err := s33Downstream(fields)
		if err != nil {
			return stats.Batch{}, parseErrorf(ModelS33, err, "downstream row %q", row)
		}
		batch.Downstream = append(batch.Downstream, ch)
	}

	for _, row := range splitHNAPTable(upTable) {
		fields := strings.Split(row, hnapFieldSeparator)
		if len(fields) != s33UpstreamFields {
			return stats.Batch{}, parseErrorf(ModelS33, nil, "upstream row %q has %d fields, want %d", row, len(fields), s33UpstreamFields)
		}
		ch, err := s33Upstream(fields)
		if err != nil {
			return stats.Batch{}, parseErrorf(ModelS33, err, "upstream row %q", row)
		}
		batch.Upstream = append(batch.Upstream, ch)
	}

	return batch, nil
}

func splitHNAPTable(table string) []string {
	if strings.TrimSpace(table) == "" {
		return nil
	}
	return strings.Split(table, hnapRowSeparator)
}

// fields: channel number, lock status, modulation, channel id, frequency,
// power, snr, corrected, uncorrectables, unused.
func s33Downstream(fields []string) (ch stats.DownstreamChannel, err error) {
	if ch.ChannelID, err = strconv.Atoi(strings.TrimSpace(fields[3])); err != nil {
		return ch, err
	}
	ch.Modulation = stats.Modulation(fields[2])
	if ch.FrequencyHz, err = stats.Hz(fields[4]); err != nil {
		return ch, err
	}
	if ch.PowerDBmV, err = stats.Float(fields[5]); err != nil {
		return ch, err
	}
	if ch.SNRdB, err = stats.Float(fields[6]); err != nil {
		return ch, err
	}
	if ch.Corrected, err = stats.Int(fields[7]); err != nil {
		return ch, err
	}
	if ch.Uncorrectables, err = stats.Int(fields[8]); err != nil {
		return ch, err
	}
	return ch, nil
}

// fields: channel number, lock status, channel type, channel id, width,
// frequency, power, unused.
func s33Upstream(fields []string) (ch stats.UpstreamChannel, err error) {
	if ch.ChannelID, err = strconv.Atoi(strings.TrimSpace(fields[3])); err != nil {
		return ch, err
	}
	ch.ChannelType = stats.ChannelType(fields[2])
	if ch.Width, err = stats.Hz(fields[4]); err != nil {
		return ch, err
	}
	if ch.FrequencyHz, err = stats.Hz(fields[5]); err != nil {
		return ch, err
	}
	if ch.PowerDBmV, err = stats.Float(fields[6]); err != nil {
		return ch, err
	}
	return ch, nil
}
