package application

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	tokenSize              = 24
	claimCommand           = "CLAIM"
	defaultClaimLinkPrefix = "https://wa.me/"
)

var claimCommandRegexp = regexp.MustCompile(`(?i)^\s*claim\s+([A-Za-z0-9_-]{10,})\s*$`)

// tokenService issues claim tokens. Only digests leave this type, the plaintext is handed back
// to the caller once so that it can be embedded in the claim link.
type tokenService struct {
	linkPrefix string
	botNumber  string
}

func newTokenService(linkPrefix, botNumber string) tokenService {
	if linkPrefix == "" {
		linkPrefix = defaultClaimLinkPrefix
	}
	return tokenService{
		linkPrefix: linkPrefix,
		botNumber:  strings.TrimPrefix(botNumber, "+"),
	}
}

func (t tokenService) issueToken() (string, string, error) {
	buf := make([]byte, tokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate claim token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token), nil
}

// buildLink returns a deep link that pre-fills "CLAIM <token>" in the messaging client.
func (t tokenService) buildLink(token string) string {
	text := url.PathEscape(fmt.Sprintf("%s %s", claimCommand, token))
	return fmt.Sprintf("%s%s?text=%s", t.linkPrefix, t.botNumber, text)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func verifyToken(token, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(digest)) == 1
}

func parseClaimCommand(text string) (string, bool) {
	matches := claimCommandRegexp.FindStringSubmatch(text)
	if len(matches) != 2 {
		return "", false
	}
	return matches[1], true
}
