package ejudge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestAPI(t *testing.T, handler http.Handler) *API {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	api := NewAPI(srv.URL)
	*api.sids = Sids{SID: "sid1", EJSID: "ejsid1"}
	return api
}

func TestAPILoginAndEnterContest(t *testing.T) {
	ctx := context.Background()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostFormValue("json") != "1" {
			t.Errorf("json flag missing")
		}
		switch r.PostFormValue("action") {
		case "login-json":
			fmt.Fprint(w, `{"ok":true,"result":{"SID":"top","EJSID":"topcookie"}}`)
		case "enter-contest-json":
			if r.PostFormValue("SID") != "top" || r.PostFormValue("contest_id") != "1" {
				t.Errorf("enter-contest form: %v", r.PostForm)
			}
			fmt.Fprint(w, `{"ok":true,"result":{"SID":"contest","EJSID":"contestcookie"}}`)
		default:
			t.Errorf("unexpected action %q", r.PostFormValue("action"))
		}
	})
	api := newTestAPI(t, handler)

	if err := api.Auth(ctx, AuthData{Login: "judge", Password: "x", ContestID: 1}); err != nil {
		t.Fatalf("auth: %v", err)
	}
	if api.sids.SID != "contest" || api.sids.EJSID != "contestcookie" {
		t.Fatalf("sids not installed: %+v", api.sids)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":{"num":38,"message":"invalid session"}}`)
	})
	api := newTestAPI(t, handler)

	_, err := api.ContestStatus(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Code != APIErrInvalidSession {
		t.Fatalf("code = %d, want %d", apiErr.Code, APIErrInvalidSession)
	}
	if !IsInvalidSession(err) {
		t.Fatal("IsInvalidSession missed the error")
	}
}

func TestAPIErrorEnvelopeWithoutDetail(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false}`)
	})
	api := newTestAPI(t, handler)

	_, err := api.ContestStatus(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Code != APIErrUnknown {
		t.Fatalf("code = %d, want %d", apiErr.Code, APIErrUnknown)
	}
}

func TestAPIUndecodableJSONReply(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	})
	api := newTestAPI(t, handler)

	_, err := api.ContestStatus(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != APIErrInvalidResponse {
		t.Fatalf("want invalid-response APIError, got %v", err)
	}
}

func TestAPIDownloadRunRawBody(t *testing.T) {
	source := "int main() { return 0; }\n"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, source)
	})
	api := newTestAPI(t, handler)

	got, err := api.DownloadRun(context.Background(), 17)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(got) != source {
		t.Fatalf("body = %q", got)
	}
}

func TestAPIDownloadRunErrorEnvelope(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":{"num":150,"message":"no such run"}}`)
	})
	api := newTestAPI(t, handler)

	_, err := api.DownloadRun(context.Background(), 999999)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 150 {
		t.Fatalf("want APIError 150, got %v", err)
	}
}

func TestAPIRunStatus(t *testing.T) {
	compilerOutput := base64.StdEncoding.EncodeToString([]byte("warning: unused variable"))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"ok":true,"result":{
			"run":{"status":1},
			"testing_report":{"tests":[{"num":1,"status":0},{"num":2,"status":5}]},
			"compiler_output":{"content":{"data":"%s"}}}}`, compilerOutput)
	})
	api := newTestAPI(t, handler)

	rs, err := api.RunStatus(context.Background(), 17)
	if err != nil {
		t.Fatalf("run status: %v", err)
	}
	if rs.Status != StatusCE {
		t.Fatalf("status = %d", rs.Status)
	}
	if len(rs.Tests) != 2 || rs.Tests[1].Status != StatusWA {
		t.Fatalf("tests = %+v", rs.Tests)
	}
	if rs.CompilerOutput != "warning: unused variable" {
		t.Fatalf("compiler output = %q", rs.CompilerOutput)
	}
}

func TestAPIRunStatusWithoutCompilerOutput(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":{"run":{"status":0}}}`)
	})
	api := newTestAPI(t, handler)

	rs, err := api.RunStatus(context.Background(), 17)
	if err != nil {
		t.Fatalf("run status: %v", err)
	}
	if rs.Status != StatusOK || rs.CompilerOutput != compilerOutputUnavailable {
		t.Fatalf("run status = %+v", rs)
	}
}

func TestAPIListRuns(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostFormValue("prob_id") != "3" {
			t.Errorf("prob_id not forwarded: %v", r.PostForm)
		}
		fmt.Fprint(w, `{"ok":true,"result":{"runs":[{"run_id":9,"prob_id":3,"status":0,"lang_id":2}]}}`)
	})
	api := newTestAPI(t, handler)

	probID := 3
	runs, err := api.ListRuns(context.Background(), &probID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != 9 || runs[0].Status != StatusOK {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestAPISubmitRunMultipart(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			fmt.Fprint(w, `{"ok":false}`)
			return
		}
		if r.PostFormValue("action") != "submit-run" || r.PostFormValue("prob_id") != "3" {
			t.Errorf("form fields: %v", r.PostForm)
		}
		if r.PostFormValue("lang_id") != "2" {
			t.Errorf("lang_id missing")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer file.Close() //nolint:errcheck
			if header.Filename != "main.c" {
				t.Errorf("filename = %q", header.Filename)
			}
		}
		fmt.Fprint(w, `{"ok":true,"result":{"run_id":42}}`)
	})
	api := newTestAPI(t, handler)

	langID := 2
	result, err := api.SubmitRun(context.Background(), 3, &langID, "main.c", []byte("int main(){}"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if string(result) != `{"run_id":42}` {
		t.Fatalf("result = %s", result)
	}
}

func TestWithAuthRetriesInvalidSessionOnce(t *testing.T) {
	ctx := context.Background()
	calls := 0
	fixture := &loginFixture{}
	sess, _ := openSessionAgainst(t, fixture.handler(), judgeAuth())

	err := sess.WithAuth(ctx, func() error {
		calls++
		if calls == 1 {
			return &APIError{Code: APIErrInvalidSession, Message: "invalid session"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithAuth: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if logins := fixture.logins.Load(); logins != 1 {
		t.Fatalf("logins = %d, want 1", logins)
	}
}

func TestWithAuthDoesNotRetryOtherErrors(t *testing.T) {
	ctx := context.Background()
	calls := 0
	fixture := &loginFixture{}
	sess, _ := openSessionAgainst(t, fixture.handler(), judgeAuth())

	wantErr := &APIError{Code: 150, Message: "no such run"}
	err := sess.WithAuth(ctx, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error not propagated: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if logins := fixture.logins.Load(); logins != 0 {
		t.Fatalf("logins = %d, want 0", logins)
	}
}

func TestContestStatusServerLocation(t *testing.T) {
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	cs := ContestStatus{
		ServerTime:    base.Unix(),
		ServerTimeStr: base.Add(3 * time.Hour).Format("2006/01/02 15:04:05"),
	}
	loc, ok := cs.serverLocation()
	if !ok {
		t.Fatal("location not derived")
	}
	_, offset := base.In(loc).Zone()
	if offset != 3*3600 {
		t.Fatalf("offset = %d, want %d", offset, 3*3600)
	}
}

func TestContestStatusServerLocationAbsent(t *testing.T) {
	if _, ok := (ContestStatus{}).serverLocation(); ok {
		t.Fatal("location derived from empty status")
	}
	cs := ContestStatus{ServerTime: 100, ServerTimeStr: "noon"}
	if _, ok := cs.serverLocation(); ok {
		t.Fatal("location derived from garbage timestamp")
	}
}
