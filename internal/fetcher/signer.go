package fetcher

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
)

// Header names of the signed-request scheme.
const (
	HeaderAPIKey     = "X-BAPI-API-KEY"
	HeaderTimestamp  = "X-BAPI-TIMESTAMP"
	HeaderSignature  = "X-BAPI-SIGN"
	HeaderRecvWindow = "X-BAPI-RECV-WINDOW"
)

// Signer produces HMAC-SHA256 request signatures.
type Signer struct {
	apiKey     string
	secret     []byte
	recvWindow int64
}

// NewSigner creates a signer. The secret is kept as bytes for the HMAC key.
func NewSigner(apiKey, secret string, recvWindow int64) *Signer {
	return &Signer{apiKey: apiKey, secret: []byte(secret), recvWindow: recvWindow}
}

// Sign returns hex(HMAC-SHA256(secret, timestamp + apiKey + recvWindow + params)).
func (s *Signer) Sign(timestampMillis int64, params string) string {
	payload := strconv.FormatInt(timestampMillis, 10) + s.apiKey + strconv.FormatInt(s.recvWindow, 10) + params
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the authentication headers for a request with the given
// canonical query string.
func (s *Signer) Headers(timestampMillis int64, params string) http.Header {
	h := http.Header{}
	h.Set(HeaderAPIKey, s.apiKey)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestampMillis, 10))
	h.Set(HeaderSignature, s.Sign(timestampMillis, params))
	h.Set(HeaderRecvWindow, strconv.FormatInt(s.recvWindow, 10))
	return h
}
