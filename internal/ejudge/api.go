package ejudge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API method groups map to CGI endpoints under /cgi-bin.
const (
	methodGroupRegister = "register"
	methodGroupClient   = "new-client"
)

// API is the token-authenticated JSON interface of the judge. Every
// call posts an action name with json=1 and the session tokens in the
// body; every JSON reply is an {ok, result, error} envelope.
type API struct {
	http      *http.Client
	baseURL   string
	sids      *Sids
	ownedSids Sids
}

// NewAPI builds a standalone API client with its own identifiers
// (populate them via Auth).
func NewAPI(baseURL string) *API {
	a := &API{http: &http.Client{}, baseURL: baseURL}
	a.sids = &a.ownedSids
	return a
}

// API returns a client bound to this session's identifiers: session
// renewal is immediately visible to the returned client. Pair calls
// with Session.WithAuth to renew on the invalid-session error code.
func (s *Session) API() *API {
	return &API{http: &http.Client{}, baseURL: s.auth.baseURL(), sids: &s.sids}
}

type errorEnvelope struct {
	Num     int    `json:"num"`
	Message string `json:"message"`
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *errorEnvelope  `json:"error"`
}

// post performs one API call. With needJSON the result payload of a
// successful envelope is returned; without it the raw body is returned
// and a body that decodes as JSON is treated as an error envelope.
func (a *API) post(ctx context.Context, group, action string, form url.Values, needJSON bool, sids *Sids) ([]byte, error) {
	if form == nil {
		form = url.Values{}
	}
	form.Set("action", action)
	form.Set("json", "1")
	if sids != nil {
		form.Set("SID", sids.SID)
		form.Set("EJSID", sids.EJSID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+cgiBinPath+"/"+group, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent())
	return a.send(req, needJSON)
}

func (a *API) send(req *http.Request, needJSON bool) ([]byte, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read api response: %v", ErrServiceUnavailable, err)
	}
	// The judge does not change the status code on auth errors, so
	// only transport-level failures map here.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if !needJSON {
			return body, nil
		}
		return nil, &APIError{Code: APIErrInvalidResponse, Message: "undecodable response: " + err.Error()}
	}
	// A JSON body on a non-JSON method is an error envelope (with the
	// known caveat that a submission which itself is valid JSON cannot
	// be downloaded through this path).
	if !needJSON || !env.OK {
		code, message := APIErrUnknown, "unknown error"
		if env.Error != nil {
			code, message = env.Error.Num, env.Error.Message
		}
		return nil, &APIError{Code: code, Message: message}
	}
	return env.Result, nil
}

func (a *API) callJSON(ctx context.Context, group, action string, form url.Values) (json.RawMessage, error) {
	return a.post(ctx, group, action, form, true, a.sids)
}

func (a *API) callRaw(ctx context.Context, group, action string, form url.Values) ([]byte, error) {
	return a.post(ctx, group, action, form, false, a.sids)
}

// Login obtains top-level identifiers for EnterContest.
func (a *API) Login(ctx context.Context, login, password string) (Sids, error) {
	form := url.Values{
		"login":    {login},
		"password": {password},
	}
	result, err := a.post(ctx, methodGroupRegister, "login-json", form, true, nil)
	if err != nil {
		return Sids{}, err
	}
	return decodeSids(result)
}

// EnterContest exchanges top-level identifiers for contest-scoped ones.
func (a *API) EnterContest(ctx context.Context, top Sids, contestID int) (Sids, error) {
	form := url.Values{
		"contest_id": {strconv.Itoa(contestID)},
	}
	result, err := a.post(ctx, methodGroupRegister, "enter-contest-json", form, true, &top)
	if err != nil {
		return Sids{}, err
	}
	return decodeSids(result)
}

// Auth performs the two-step API login and installs the contest-scoped
// identifiers on this client (and, for a session-backed client, on the
// session).
func (a *API) Auth(ctx context.Context, auth AuthData) error {
	top, err := a.Login(ctx, auth.Login, auth.Password)
	if err != nil {
		return err
	}
	sids, err := a.EnterContest(ctx, top, auth.ContestID)
	if err != nil {
		return err
	}
	*a.sids = sids
	return nil
}

func decodeSids(result json.RawMessage) (Sids, error) {
	var payload struct {
		SID   string `json:"SID"`
		EJSID string `json:"EJSID"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return Sids{}, &APIError{Code: APIErrInvalidResponse, Message: "undecodable sids: " + err.Error()}
	}
	if payload.SID == "" || payload.EJSID == "" {
		return Sids{}, authErrorf("api issued incomplete session identifiers")
	}
	return Sids{SID: payload.SID, EJSID: payload.EJSID}, nil
}

// ContestStatus is the subset of the contest-status-json reply this
// client consumes.
type ContestStatus struct {
	Contest struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"contest"`
	// ServerTime is the judge's clock as a unix timestamp;
	// ServerTimeStr is the same instant rendered in the judge's local
	// timezone. Their difference yields the server timezone.
	ServerTime    int64  `json:"server_time"`
	ServerTimeStr string `json:"server_time_str"`
}

func (a *API) ContestStatus(ctx context.Context) (ContestStatus, error) {
	result, err := a.callJSON(ctx, methodGroupClient, "contest-status-json", nil)
	if err != nil {
		return ContestStatus{}, err
	}
	var cs ContestStatus
	if err := json.Unmarshal(result, &cs); err != nil {
		return ContestStatus{}, &APIError{Code: APIErrInvalidResponse, Message: "undecodable contest status: " + err.Error()}
	}
	return cs, nil
}

// serverLocation derives the judge's timezone from the paired
// timestamp fields, rounded to 15 minutes. The rendered form of the
// slice semantics is reverse-engineered; absence of either field means
// the timezone cannot be derived.
func (cs ContestStatus) serverLocation() (*time.Location, bool) {
	if cs.ServerTime == 0 || cs.ServerTimeStr == "" {
		return nil, false
	}
	var rendered time.Time
	var err error
	for _, layout := range cellTimeLayouts {
		rendered, err = time.ParseInLocation(layout, cs.ServerTimeStr, time.UTC)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, false
	}
	offset := rendered.Unix() - cs.ServerTime
	const quantum = 15 * 60
	offset = ((offset + quantum/2) / quantum) * quantum
	hours := offset / 3600
	return time.FixedZone(fmt.Sprintf("SRV%+03d", hours), int(offset)), true
}

func (a *API) ProblemStatus(ctx context.Context, probID int) (json.RawMessage, error) {
	form := url.Values{"problem": {strconv.Itoa(probID)}}
	return a.callJSON(ctx, methodGroupClient, "problem-status-json", form)
}

// ProblemStatement returns the statement payload, which is not JSON.
func (a *API) ProblemStatement(ctx context.Context, probID int) ([]byte, error) {
	form := url.Values{"problem": {strconv.Itoa(probID)}}
	return a.callRaw(ctx, methodGroupClient, "problem-statement-json", form)
}

// APIRun is the subset of one list-runs-json entry this client
// consumes. Newest runs go first.
type APIRun struct {
	RunID  int `json:"run_id"`
	ProbID int `json:"prob_id"`
	Status int `json:"status"`
	LangID int `json:"lang_id"`
}

// ListRuns lists runs, optionally narrowed to one problem. A nil
// probID returns all runs.
func (a *API) ListRuns(ctx context.Context, probID *int) ([]APIRun, error) {
	form := url.Values{}
	if probID != nil {
		form.Set("prob_id", strconv.Itoa(*probID))
	}
	result, err := a.callJSON(ctx, methodGroupClient, "list-runs-json", form)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Runs []APIRun `json:"runs"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, &APIError{Code: APIErrInvalidResponse, Message: "undecodable run list: " + err.Error()}
	}
	return payload.Runs, nil
}

func (a *API) RunStatus(ctx context.Context, runID int) (RunStatus, error) {
	form := url.Values{"run_id": {strconv.Itoa(runID)}}
	result, err := a.callJSON(ctx, methodGroupClient, "run-status-json", form)
	if err != nil {
		return RunStatus{}, err
	}
	return newRunStatus(result)
}

// DownloadRun returns the submitted source, which is not JSON.
func (a *API) DownloadRun(ctx context.Context, runID int) ([]byte, error) {
	form := url.Values{"run_id": {strconv.Itoa(runID)}}
	return a.callRaw(ctx, methodGroupClient, "download-run", form)
}

func (a *API) RunMessages(ctx context.Context, runID int) (json.RawMessage, error) {
	form := url.Values{"run_id": {strconv.Itoa(runID)}}
	return a.callJSON(ctx, methodGroupClient, "run-messages-json", form)
}

// SubmitRun uploads a solution as a multipart form. langID may be nil
// for problems that take no language.
func (a *API) SubmitRun(ctx context.Context, probID int, langID *int, filename string, source []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := map[string]string{
		"action":  "submit-run",
		"json":    "1",
		"SID":     a.sids.SID,
		"EJSID":   a.sids.EJSID,
		"prob_id": strconv.Itoa(probID),
	}
	if langID != nil {
		fields["lang_id"] = strconv.Itoa(*langID)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write submit field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create submit file part: %w", err)
	}
	if _, err := part.Write(source); err != nil {
		return nil, fmt.Errorf("write submit file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish submit form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+cgiBinPath+"/"+methodGroupClient, &buf)
	if err != nil {
		return nil, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", userAgent())
	return a.send(req, true)
}
