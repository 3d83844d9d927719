package httpservice

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/arkade-os/escrowd/pkg/errors"
)

const (
	headerTimestamp = "X-Timestamp"
	headerSignature = "X-Signature"

	maxSignatureAge = 5 * time.Minute
)

var errInvalidSignature = errors.UNAUTHENTICATED_REQUEST.New("missing or invalid request signature")

// signatureVerifier authenticates api requests signed by the messaging gateway, the only
// party allowed to speak on behalf of a phone number. The signature is the hex encoded
// HMAC-SHA256 of "<timestamp>.<body>" keyed with the shared secret.
type signatureVerifier struct {
	secret []byte
	now    func() time.Time
}

func newSignatureVerifier(secret string) *signatureVerifier {
	return &signatureVerifier{[]byte(secret), time.Now}
}

func (v *signatureVerifier) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil {
			writeError(w, r, errors.INVALID_REQUEST.New("failed to read request body"))
			return
		}
		if len(body) > maxBodySize {
			writeError(w, r, errors.INVALID_REQUEST.New("request body too large"))
			return
		}
		if !v.verify(r.Header.Get(headerTimestamp), r.Header.Get(headerSignature), body) {
			writeError(w, r, errInvalidSignature)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (v *signatureVerifier) verify(timestamp, signature string, body []byte) bool {
	if len(v.secret) == 0 || timestamp == "" || signature == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if age := v.now().Sub(time.Unix(ts, 0)); age > maxSignatureAge || age < -maxSignatureAge {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, v.sign(ts, body))
}

func (v *signatureVerifier) sign(timestamp int64, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = fmt.Fprintf(mac, "%d.", timestamp)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
