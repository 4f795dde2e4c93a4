// Package signer holds the browser-exported session state and produces the
// anti-bot request headers the platform expects on every API call.
package signer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Session represents one logged-in browser session exported for the crawler.
// Cookies must include a1 and web_session; LocalStorage must include b1.
type Session struct {
	Account      string            `json:"account"`
	Cookies      map[string]string `json:"cookies"`
	LocalStorage map[string]string `json:"local_storage,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// A1 returns the a1 device cookie, an input to the signing algorithm.
func (s *Session) A1() string {
	return s.Cookies["a1"]
}

// B1 returns the b1 local-storage secret, an input to the signing algorithm.
func (s *Session) B1() string {
	return s.LocalStorage["b1"]
}

// CookieHeader renders the cookie jar as a Cookie header value with stable
// key ordering.
func (s *Session) CookieHeader() string {
	keys := make([]string, 0, len(s.Cookies))
	for k := range s.Cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, s.Cookies[k]))
	}
	return strings.Join(parts, "; ")
}

// Validate checks that the session carries everything request signing needs
func (s *Session) Validate() error {
	if s == nil {
		return errors.New("session is nil")
	}
	if s.Account == "" {
		return errors.New("session account is required")
	}
	if s.Cookies["a1"] == "" {
		return errors.New("session is missing the a1 cookie")
	}
	if s.Cookies["web_session"] == "" {
		return errors.New("session is missing the web_session cookie")
	}
	return nil
}
