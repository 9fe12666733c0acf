package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint returns the SHA-256 fingerprint of a certificate in the
// "sha256:<hex>" form used in logs and the status command.
func Fingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return DigestOfContent(cert.Raw)
}

// DigestOfContent calculates the SHA-256 digest of byte content.
func DigestOfContent(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ContentDigest renders an RFC 9530 Content-Digest header value for body.
func ContentDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("sha-256=:%s:", base64.StdEncoding.EncodeToString(sum[:]))
}

// VerifyContentDigest checks a Content-Digest header value against body.
// Only the sha-256 member is understood.
func VerifyContentDigest(header string, body []byte) error {
	for _, member := range strings.Split(header, ",") {
		member = strings.TrimSpace(member)
		if !strings.HasPrefix(member, "sha-256=") {
			continue
		}
		want := ContentDigest(body)
		if subtle.ConstantTimeCompare([]byte(member), []byte(want)) != 1 {
			return fmt.Errorf("content digest mismatch")
		}
		return nil
	}
	return fmt.Errorf("no sha-256 content digest in %q", header)
}
