package modem

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	hnapPath = "/HNAP1/"

	// SOAP action strings are sent quoted, exactly as the web UI does.
	hnapLoginAction    = `"http://purenetworks.com/HNAP1/Login"`
	hnapMultipleAction = `"http://purenetworks.com/HNAP1/GetMultipleHNAPs"`

	// Signing key used before a private key has been negotiated.
	hnapWithoutLoginKey = "withoutloginkey"
)

// arrisHMAC is HMAC-MD5 rendered as upper case hex, the digest the Arris
// firmware uses for both key derivation and request signing.
func arrisHMAC(key, msg string) string {
	mac := hmac.New(md5.New, []byte(key))
	mac.Write([]byte(msg))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// hnapAuth computes the HNAP_AUTH header value for soapAction. An empty
// privateKey signs with the pre-login key.
func hnapAuth(privateKey, soapAction string, now time.Time) string {
	if privateKey == "" {
		privateKey = hnapWithoutLoginKey
	}
	millis := strconv.FormatInt((now.UnixNano()/int64(time.Millisecond))%2000000000000, 10)
	return arrisHMAC(privateKey, millis+soapAction) + " " + millis
}

// hnapCookie is the Cookie header the web UI sends once logged in.
func hnapCookie(uid, privateKey string) string {
	return "Secure; Secure; uid=" + uid + "; PrivateKey=" + privateKey
}
