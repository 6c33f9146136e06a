// Package ejudge is a privileged client for an ejudge-compatible
// contest judge. It owns the session lifecycle (login, optimistic
// restore, transparent renewal on expiry), dispatches page and API
// requests, and decodes the judge's HTML tables and JSON replies into
// typed records.
package ejudge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ObjatieGroba/kks/internal/store"
)

const Version = "0.2.0"

var log = logrus.WithField("component", "ejudge")

// invalidSessionMarker appears in HTML responses served against an
// expired or inconsistent session.
var invalidSessionMarker = []byte("Invalid session")

// Session is an authenticated connection to the judge. It owns the
// credentials, session identifiers and cookie jar for its lifetime.
//
// A Session is not safe for concurrent use: renewal replaces the
// session identifiers and cookie jar in place.
type Session struct {
	http  *http.Client
	store *store.Store
	auth  AuthData

	sids  Sids
	judge bool

	// serverLoc caches the judge's timezone, fetched once per session.
	serverLoc *time.Location

	// PasswordPrompt supplies a password interactively when the stored
	// credentials have none. Left nil, authentication without a stored
	// password fails with an AuthError.
	PasswordPrompt func() (string, error)
}

// New builds a session and optimistically restores the previously
// persisted identifiers: when both tokens are present the cookie jar is
// seeded and the session is assumed valid without contacting the judge.
func New(ctx context.Context, st *store.Store, auth AuthData) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	s := &Session{
		http:  &http.Client{Jar: jar},
		store: st,
		auth:  auth,
		judge: auth.Judge,
	}
	rec, err := st.LoadSession(ctx)
	if err == nil && rec.SID != "" && rec.EJSID != "" {
		s.sids = Sids{SID: rec.SID, EJSID: rec.EJSID}
		s.judge = rec.Judge
		s.seedCookie()
	}
	return s, nil
}

// Sids returns the current session identifiers.
func (s *Session) Sids() Sids {
	return s.sids
}

// Judge reports whether the session was established in judge mode.
func (s *Session) Judge() bool {
	return s.judge
}

// Auth posts the login form to the contest entry URL and captures fresh
// session identifiers from the redirect target and the cookie jar.
func (s *Session) Auth(ctx context.Context) error {
	if s.auth.Login == "" {
		return authErrorf("no stored credentials; run auth first")
	}
	if s.auth.Password == "" {
		if s.PasswordPrompt == nil {
			return authErrorf("password is not stored and no prompt is available")
		}
		password, err := s.PasswordPrompt()
		if err != nil {
			return authErrorf("password prompt: %v", err)
		}
		s.auth.Password = password
	}

	// Start from an empty jar so stale cookies cannot shadow the new
	// session.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	s.http.Jar = jar

	form := url.Values{
		"login":    {s.auth.Login},
		"password": {s.auth.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, contestLoginURL(s.auth), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent())

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read login response: %v", ErrServiceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return authErrorf("login failed with status %d", resp.StatusCode)
	}
	text := string(body)
	if strings.Contains(text, "Invalid contest") || strings.Contains(text, "invalid contest_id") {
		return authErrorf("invalid contest id %d", s.auth.ContestID)
	}
	if strings.Contains(text, "Permission denied") {
		return authErrorf("permission denied (invalid login, password or contest id)")
	}

	final := resp.Request.URL
	sid := final.Query().Get("SID")
	if sid == "" {
		return authErrorf("login response carries no session id")
	}
	var ejsid string
	for _, c := range s.http.Jar.Cookies(final) {
		if c.Name == "EJSID" {
			ejsid = c.Value
		}
	}
	if ejsid == "" {
		return authErrorf("login response carries no EJSID cookie")
	}

	s.sids = Sids{SID: sid, EJSID: ejsid}
	s.judge = s.auth.Judge
	s.serverLoc = nil
	if err := s.store.SaveSession(ctx, store.SessionRecord{SID: sid, EJSID: ejsid, Judge: s.judge}); err != nil {
		log.WithError(err).Warn("failed to persist session identifiers")
	}
	return nil
}

// EnsureAuth authenticates only if the optimistic restore produced no
// usable identifiers.
func (s *Session) EnsureAuth(ctx context.Context) error {
	if s.sids.Valid() {
		return nil
	}
	return s.Auth(ctx)
}

// GetPage issues a GET for a page of the HTML interface. Judge-only
// pages on a non-judge session fail locally with ErrAccess before any
// request is made.
func (s *Session) GetPage(ctx context.Context, page Page, params url.Values) ([]byte, error) {
	if err := s.checkPageAccess(page); err != nil {
		return nil, err
	}
	return s.request(ctx, http.MethodGet, contestRootURL(s.auth.baseURL(), s.judge), params, nil, &page)
}

// PostPage issues a POST for a page of the HTML interface; data is sent
// as the form body while session id and action travel in the query.
func (s *Session) PostPage(ctx context.Context, page Page, data url.Values) ([]byte, error) {
	if err := s.checkPageAccess(page); err != nil {
		return nil, err
	}
	return s.request(ctx, http.MethodPost, contestRootURL(s.auth.baseURL(), s.judge), nil, data, &page)
}

// Get requests a raw URL through the session. A stale SID embedded in
// the URL is stripped and replaced with the current one.
func (s *Session) Get(ctx context.Context, rawurl string, params url.Values) ([]byte, error) {
	return s.request(ctx, http.MethodGet, rawurl, params, nil, nil)
}

// Post requests a raw URL through the session with a form body.
func (s *Session) Post(ctx context.Context, rawurl string, data url.Values) ([]byte, error) {
	return s.request(ctx, http.MethodPost, rawurl, nil, data, nil)
}

// WithAuth runs an API call and, on the invalid-session error code,
// re-authenticates once and retries once. Any other error propagates.
func (s *Session) WithAuth(ctx context.Context, call func() error) error {
	err := call()
	if err == nil || !IsInvalidSession(err) {
		return err
	}
	log.Info("api session is invalid, re-authenticating")
	if err := s.Auth(ctx); err != nil {
		return err
	}
	return call()
}

// ServerLocation returns the judge's timezone, fetched once per session
// via the contest status API and cached. If it cannot be determined the
// server is assumed to run on UTC.
func (s *Session) ServerLocation(ctx context.Context) *time.Location {
	if s.serverLoc != nil {
		return s.serverLoc
	}
	loc := time.UTC
	if cs, err := s.API().ContestStatus(ctx); err == nil {
		if derived, ok := cs.serverLocation(); ok {
			loc = derived
		}
	} else {
		log.WithError(err).Debug("cannot determine server timezone, assuming UTC")
	}
	s.serverLoc = loc
	return loc
}

func (s *Session) checkPageAccess(page Page) error {
	if page.judgeOnly() && !s.judge {
		return fmt.Errorf("%w: page %d", ErrAccess, int(page))
	}
	return nil
}

func (s *Session) seedCookie() {
	base, err := url.Parse(s.auth.baseURL())
	if err != nil {
		return
	}
	s.http.Jar.SetCookies(base, []*http.Cookie{{Name: "EJSID", Value: s.sids.EJSID, Path: "/"}})
}

// request performs one page request with the single-renewal protocol:
// a response containing the invalid-session marker triggers exactly one
// re-authentication and one retry; a second marker is an AuthError.
func (s *Session) request(ctx context.Context, method, rawurl string, params, form url.Values, page *Page) ([]byte, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	query := u.Query()
	query.Del("SID")
	for key, values := range params {
		query[key] = values
	}
	query.Set("SID", s.sids.SID)
	if page != nil {
		query.Set("action", strconv.Itoa(int(*page)))
	}

	do := func() ([]byte, error) {
		u.RawQuery = query.Encode()
		var body io.Reader
		if len(form) > 0 {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.Header.Set("User-Agent", userAgent())
		resp, err := s.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		defer resp.Body.Close() //nolint:errcheck
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrServiceUnavailable, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
		}
		return payload, nil
	}

	payload, err := do()
	if err != nil {
		return nil, err
	}
	// The requested page may contain binary data, so check bytes.
	if !bytes.Contains(payload, invalidSessionMarker) {
		return payload, nil
	}
	log.Info("session is invalid, re-authenticating")
	if err := s.Auth(ctx); err != nil {
		return nil, err
	}
	query.Set("SID", s.sids.SID)
	payload, err = do()
	if err != nil {
		return nil, err
	}
	if bytes.Contains(payload, invalidSessionMarker) {
		return nil, authErrorf("session still invalid after re-authentication")
	}
	return payload, nil
}

func userAgent() string {
	return "kks/" + Version
}
