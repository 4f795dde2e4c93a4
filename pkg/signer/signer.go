package signer

import (
	"context"
	"errors"
	"net/http"
)

const (
	// Origin is sent on every request; API calls are cross-origin from the
	// web frontend's point of view.
	Origin  = "https://www.xiaohongshu.com"
	Referer = "https://www.xiaohongshu.com/"

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/104.0.5112.79 Safari/537.36"
)

// Signature carries the computed anti-bot headers for one request.
type Signature struct {
	XS       string
	XT       string
	XSCommon string
	TraceID  string
}

// SignFunc computes the signature for an API path and request body, keyed by
// the session's a1 cookie and b1 local-storage secret. The algorithm ships
// obfuscated inside the platform's browser bundle, so implementations
// typically evaluate it in a headless browser page that has the bundle
// loaded. The api path is relative ("/api/sns/web/v1/feed"); body is nil for
// GET requests.
type SignFunc func(ctx context.Context, api string, body []byte, a1, b1 string) (*Signature, error)

// ErrNoSignFunc is returned when an API request needs a signature but no
// SignFunc was configured.
var ErrNoSignFunc = errors.New("no signing function configured")

// Signer assembles the full header set for platform requests.
type Signer struct {
	session   *Session
	sign      SignFunc
	userAgent string
}

// New creates a Signer for the given session. sign may be nil if only
// unsigned page fetches are needed.
func New(session *Session, sign SignFunc) *Signer {
	ua := session.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Signer{
		session:   session,
		sign:      sign,
		userAgent: ua,
	}
}

// Session returns the session backing this signer
func (s *Signer) Session() *Session {
	return s.session
}

// Headers builds the headers for a platform request. Page fetches pass an
// empty api path and get only the base headers; API calls additionally get
// the computed signature headers.
func (s *Signer) Headers(ctx context.Context, api string, body []byte) (http.Header, error) {
	h := http.Header{}
	h.Set("User-Agent", s.userAgent)
	h.Set("Cookie", s.session.CookieHeader())
	h.Set("Origin", Origin)
	h.Set("Referer", Referer)
	h.Set("Content-Type", "application/json;charset=UTF-8")

	if api == "" {
		return h, nil
	}
	if s.sign == nil {
		return nil, ErrNoSignFunc
	}

	sig, err := s.sign(ctx, api, body, s.session.A1(), s.session.B1())
	if err != nil {
		return nil, err
	}
	h.Set("X-S", sig.XS)
	h.Set("X-T", sig.XT)
	h.Set("X-S-Common", sig.XSCommon)
	h.Set("X-B3-Traceid", sig.TraceID)
	return h, nil
}
