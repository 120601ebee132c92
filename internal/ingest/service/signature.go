package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	ingestdomain "github.com/abiah-ai/usagegate/internal/ingest/domain"
)

// VerifySignature checks a "t=<unix>,v1=<hex>" header against the shared
// secret. The signed message is "<t>.<body>", so neither the timestamp nor
// the payload can be swapped independently, and the timestamp must fall
// within tolerance of now to stop replays.
func VerifySignature(secret string, header string, body []byte, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ingestdomain.ErrMissingSignature
	}

	var tsPart, sigPart string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			tsPart = value
		case "v1":
			sigPart = value
		}
	}
	if tsPart == "" || sigPart == "" {
		return ingestdomain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ingestdomain.ErrInvalidSignature
	}
	drift := now.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return ingestdomain.ErrSignatureExpired
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.", tsPart)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sigPart))) {
		return ingestdomain.ErrInvalidSignature
	}
	return nil
}

// OriginAllowed checks the Origin (or, failing that, Referer) host against
// the configured allow-list. Server-to-server deliveries carry neither
// header, so an absent value passes; suffix matching admits subdomains of
// an allowed domain.
func OriginAllowed(allowed []string, origin, referer string) bool {
	if len(allowed) == 0 {
		return true
	}
	source := origin
	if source == "" {
		source = referer
	}
	if source == "" {
		return true
	}

	host := source
	if u, err := url.Parse(source); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)

	for _, domain := range allowed {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
