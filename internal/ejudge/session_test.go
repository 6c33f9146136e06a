package ejudge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ObjatieGroba/kks/internal/store"
)

// loginFixture is a fake judge login endpoint: a posted login form is
// answered with an EJSID cookie and a redirect carrying a fresh SID,
// the way the real judge hands out identifiers.
type loginFixture struct {
	logins   atomic.Int64
	pageHits atomic.Int64

	// pageBody is returned for page requests; replaced by tests that
	// exercise renewal.
	pageBody func(n int64) string
}

func (f *loginFixture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.FormValue("login") != "" {
			n := f.logins.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "EJSID", Value: fmt.Sprintf("cookie%d", n), Path: "/"})
			target := fmt.Sprintf("%s?SID=sid%d&contest_id=%s", r.URL.Path, n, r.URL.Query().Get("contest_id"))
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		n := f.pageHits.Add(1)
		body := "<html>main</html>"
		if f.pageBody != nil {
			body = f.pageBody(n)
		}
		fmt.Fprint(w, body)
	})
}

func openSessionAgainst(t *testing.T, handler http.Handler, auth AuthData) (*Session, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	auth.BaseURL = srv.URL
	sess, err := New(context.Background(), st, auth)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return sess, st
}

func judgeAuth() AuthData {
	return AuthData{Login: "judge", Password: "secret", ContestID: 1, Judge: true}
}

func TestAuthCapturesIdentifiers(t *testing.T) {
	ctx := context.Background()
	fixture := &loginFixture{}
	sess, st := openSessionAgainst(t, fixture.handler(), judgeAuth())

	if err := sess.Auth(ctx); err != nil {
		t.Fatalf("auth: %v", err)
	}
	sids := sess.Sids()
	if !sids.Valid() {
		t.Fatalf("sids not captured: %+v", sids)
	}
	if sids.SID != "sid1" || sids.EJSID != "cookie1" {
		t.Fatalf("unexpected sids: %+v", sids)
	}

	rec, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load persisted session: %v", err)
	}
	if rec.SID != "sid1" || rec.EJSID != "cookie1" || !rec.Judge {
		t.Fatalf("persisted record = %+v", rec)
	}
}

func TestAuthPermissionDenied(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>Permission denied</html>")
	})
	sess, _ := openSessionAgainst(t, handler, judgeAuth())

	err := sess.Auth(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want AuthError, got %v", err)
	}
}

func TestAuthInvalidContest(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>Invalid contest</html>")
	})
	sess, _ := openSessionAgainst(t, handler, judgeAuth())

	err := sess.Auth(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want AuthError, got %v", err)
	}
}

func TestAuthNoStoredCredentials(t *testing.T) {
	sess, _ := openSessionAgainst(t, http.NotFoundHandler(), AuthData{ContestID: 1})
	err := sess.Auth(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want AuthError, got %v", err)
	}
}

func TestAuthPromptsForMissingPassword(t *testing.T) {
	fixture := &loginFixture{}
	auth := judgeAuth()
	auth.Password = ""
	sess, _ := openSessionAgainst(t, fixture.handler(), auth)

	prompted := false
	sess.PasswordPrompt = func() (string, error) {
		prompted = true
		return "secret", nil
	}
	if err := sess.Auth(context.Background()); err != nil {
		t.Fatalf("auth: %v", err)
	}
	if !prompted {
		t.Fatal("password prompt not used")
	}
}

func TestJudgeOnlyPageFailsLocally(t *testing.T) {
	fixture := &loginFixture{}
	auth := judgeAuth()
	auth.Judge = false
	sess, _ := openSessionAgainst(t, fixture.handler(), auth)

	_, err := sess.GetPage(context.Background(), PageMain, nil)
	if !errors.Is(err, ErrAccess) {
		t.Fatalf("want ErrAccess, got %v", err)
	}
	if hits := fixture.pageHits.Load(); hits != 0 {
		t.Fatalf("server was contacted %d times", hits)
	}
}

func TestPageRenewalRecovers(t *testing.T) {
	ctx := context.Background()
	fixture := &loginFixture{}
	fixture.pageBody = func(n int64) string {
		if n == 1 {
			return "<html>Invalid session</html>"
		}
		return "<html>main</html>"
	}
	sess, _ := openSessionAgainst(t, fixture.handler(), judgeAuth())
	sess.sids = Sids{SID: "stale", EJSID: "stale"}

	body, err := sess.GetPage(ctx, PageMain, nil)
	if err != nil {
		t.Fatalf("renewal failed: %v", err)
	}
	if string(body) != "<html>main</html>" {
		t.Fatalf("unexpected body: %s", body)
	}
	if logins := fixture.logins.Load(); logins != 1 {
		t.Fatalf("logins = %d, want 1", logins)
	}
	if sess.Sids().SID != "sid1" {
		t.Fatalf("sids not renewed: %+v", sess.Sids())
	}
}

func TestPageRenewalHappensExactlyOnce(t *testing.T) {
	ctx := context.Background()
	fixture := &loginFixture{}
	fixture.pageBody = func(int64) string {
		return "<html>Invalid session</html>"
	}
	sess, _ := openSessionAgainst(t, fixture.handler(), judgeAuth())
	sess.sids = Sids{SID: "stale", EJSID: "stale"}

	_, err := sess.GetPage(ctx, PageMain, nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want AuthError after failed renewal, got %v", err)
	}
	if logins := fixture.logins.Load(); logins != 1 {
		t.Fatalf("logins = %d, want exactly 1", logins)
	}
	// Initial request, the login redirect, and one retry.
	if hits := fixture.pageHits.Load(); hits != 3 {
		t.Fatalf("page hits = %d, want 3", hits)
	}
}

func TestOptimisticRestore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.SaveSession(ctx, store.SessionRecord{SID: "oldsid", EJSID: "oldejsid", Judge: true}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	sess, err := New(ctx, st, AuthData{Login: "judge", ContestID: 1, Judge: true, BaseURL: "http://judge.invalid"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if sids := sess.Sids(); sids.SID != "oldsid" || sids.EJSID != "oldejsid" {
		t.Fatalf("restore failed: %+v", sids)
	}
	if err := sess.EnsureAuth(ctx); err != nil {
		t.Fatalf("EnsureAuth must not contact the judge after restore: %v", err)
	}
}

func TestRequestStripsStaleSID(t *testing.T) {
	ctx := context.Background()
	var gotSID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSID = r.URL.Query().Get("SID")
		fmt.Fprint(w, "<html>ok</html>")
	}))
	t.Cleanup(srv.Close)
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	sess, err := New(ctx, st, AuthData{Login: "judge", Password: "x", ContestID: 1, Judge: true, BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	sess.sids = Sids{SID: "fresh", EJSID: "fresh"}

	if _, err := sess.Get(ctx, srv.URL+"/cgi-bin/new-judge?SID=stale&run_id=5", url.Values{}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotSID != "fresh" {
		t.Fatalf("SID = %q, want the current one", gotSID)
	}
}
