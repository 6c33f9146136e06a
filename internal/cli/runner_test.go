package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := fmt.Sprintf(`auth:
  login: judge
  password: secret
  contest: 1
  judge: true
  base_url: %s
db_path: %s
`, baseURL, filepath.Join(dir, "state.db"))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRunner(&out, &errOut)
	code := r.Run(context.Background(), []string{"frobnicate"})
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "unknown command") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRunner(&out, &errOut)
	if code := r.Run(context.Background(), nil); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "usage:") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestRunSubmissions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h2>Submissions</h2><table class="b1">
<tr><th>Run</th></tr>
<tr><td>17</td><td>2026-03-15 12:00:00</td><td>vasya</td><td>sm01</td><td>gcc</td><td>OK</td><td>5</td><td>100</td><td></td></tr>
</table></body></html>`)
	}))
	t.Cleanup(srv.Close)
	configPath := writeTestConfig(t, srv.URL)

	var out, errOut bytes.Buffer
	r := NewRunner(&out, &errOut)
	code := r.Run(context.Background(), []string{"--config", configPath, "sub"})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "17\tvasya\tsm01\tgcc\tOK\t100") {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestRunSubmissionsBadBound(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRunner(&out, &errOut)
	code := r.Run(context.Background(), []string{"sub", "--first", "ten"})
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRunSetRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server must not be contacted for an invalid status")
	}))
	t.Cleanup(srv.Close)
	configPath := writeTestConfig(t, srv.URL)

	var out, errOut bytes.Buffer
	r := NewRunner(&out, &errOut)
	code := r.Run(context.Background(), []string{"--config", configPath, "set", "status", "17", "great"})
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRunRejudge(t *testing.T) {
	var gotMask string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotMask = r.PostFormValue("run_mask")
		fmt.Fprint(w, "<html>ok</html>")
	}))
	t.Cleanup(srv.Close)
	configPath := writeTestConfig(t, srv.URL)

	var out, errOut bytes.Buffer
	r := NewRunner(&out, &errOut)
	code := r.Run(context.Background(), []string{"--config", configPath, "rejudge", "0", "1", "2", "3"})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, errOut.String())
	}
	if gotMask != "f" {
		t.Fatalf("mask = %q, want f", gotMask)
	}
	if !strings.Contains(out.String(), "rejudging 4 runs") {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestRunAuditEmpty(t *testing.T) {
	configPath := writeTestConfig(t, "http://judge.invalid")

	var out, errOut bytes.Buffer
	r := NewRunner(&out, &errOut)
	code := r.Run(context.Background(), []string{"--config", configPath, "audit"})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, errOut.String())
	}
	if out.Len() != 0 {
		t.Fatalf("stdout = %q, want empty", out.String())
	}
}
