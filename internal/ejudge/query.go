package ejudge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ObjatieGroba/kks/internal/store"
)

// Persisted filter tuple keys. Each records which filter components the
// previous query of that type left set on the server.
const (
	filterTypeSubmissions = "submissions"
	filterTypeClars       = "clars"
)

const (
	submissionsHeading = "Submissions"
	clarsHeading       = "Messages"
)

// ClarMode selects which messages a clarification listing includes.
type ClarMode int

const (
	ClarAll             ClarMode = 1
	ClarUnanswered      ClarMode = 2
	ClarAllWithComments ClarMode = 3
	ClarToAll           ClarMode = 4
)

func anySet(tuple []bool) bool {
	for _, b := range tuple {
		if b {
			return true
		}
	}
	return false
}

// needFilterReset reports whether moving from the persisted tuple to
// the wanted one unsets any component. Server-side filter state is
// sticky, so unsetting is only possible through an explicit reset.
func needFilterReset(prev, want []bool) bool {
	for i, was := range prev {
		if i >= len(want) {
			return was
		}
		if was && !want[i] {
			return true
		}
	}
	return false
}

// resetFilter clears the server-side filter of one query type and
// persists the new tuple before any substantive query runs, so a crash
// between the two leaves the durable state matching the server. The
// reset response is returned: when no components are wanted it already
// is the unfiltered listing.
func (s *Session) resetFilter(ctx context.Context, queryType, param string, want []bool) ([]byte, error) {
	page, err := s.GetPage(ctx, PageMain, url.Values{param: {resetFilterValue}})
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveFilterStatus(ctx, queryType, want); err != nil {
		return nil, fmt.Errorf("persist filter state: %w", err)
	}
	return page, nil
}

func (s *Session) syncFilter(ctx context.Context, queryType, param string, want []bool) ([]byte, error) {
	prev, err := s.store.LoadFilterStatus(ctx, queryType)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load filter state: %w", err)
	}
	if !needFilterReset(prev, want) {
		if err := s.store.SaveFilterStatus(ctx, queryType, want); err != nil {
			return nil, fmt.Errorf("persist filter state: %w", err)
		}
		return nil, nil
	}
	return s.resetFilter(ctx, queryType, param, want)
}

// Submissions lists the submission table of the main judge page,
// optionally narrowed by a filter expression and a run id window. A nil
// bound leaves that end open. No matching submissions yields a nil
// slice and no error.
func (s *Session) Submissions(ctx context.Context, filter string, firstRun, lastRun *int) ([]Submission, error) {
	want := []bool{filter != "", firstRun != nil, lastRun != nil}
	page, err := s.syncFilter(ctx, filterTypeSubmissions, resetFilterParam, want)
	if err != nil {
		return nil, err
	}
	if anySet(want) || page == nil {
		params := url.Values{}
		if filter != "" {
			params.Set("filter_expr", filter)
		}
		if firstRun != nil {
			params.Set("filter_first_run", strconv.Itoa(*firstRun))
		}
		if lastRun != nil {
			params.Set("filter_last_run", strconv.Itoa(*lastRun))
		}
		page, err = s.GetPage(ctx, PageMain, params)
		if err != nil {
			return nil, err
		}
	}

	rows, err := extractTableRows(page, submissionsHeading)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, nil
		}
		return nil, err
	}
	subs := make([]Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := decodeSubmissionRow(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Clars lists the clarification table of the main judge page. The mode
// picks the message class; the id window narrows it further. No
// matching messages yields a nil slice and no error.
func (s *Session) Clars(ctx context.Context, mode ClarMode, firstClar, lastClar *int) ([]Clarification, error) {
	want := []bool{firstClar != nil, lastClar != nil}
	page, err := s.syncFilter(ctx, filterTypeClars, resetClarFilterParam, want)
	if err != nil {
		return nil, err
	}
	// The reset response shows unanswered messages, so it only doubles
	// as the answer for that mode with no window set.
	if anySet(want) || mode != ClarUnanswered || page == nil {
		params := url.Values{
			"filter_mode_clar": {strconv.Itoa(int(mode))},
		}
		if firstClar != nil {
			params.Set("filter_first_clar", strconv.Itoa(*firstClar))
		}
		if lastClar != nil {
			params.Set("filter_last_clar", strconv.Itoa(*lastClar))
		}
		page, err = s.GetPage(ctx, PageMain, params)
		if err != nil {
			return nil, err
		}
	}

	rows, err := extractTableRows(page, clarsHeading)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, nil
		}
		return nil, err
	}
	serverLoc := s.ServerLocation(ctx)
	clars := make([]Clarification, 0, len(rows))
	for _, row := range rows {
		clar, err := decodeClarificationRow(row, serverLoc)
		if err != nil {
			return nil, err
		}
		clars = append(clars, clar)
	}
	return clars, nil
}

// UserListOptions widen the standings-relevant default user listing.
type UserListOptions struct {
	ShowNotOK     bool
	ShowInvisible bool
	ShowBanned    bool
	OnlyPending   bool
}

// Users lists contest participants through the AJAX endpoint backing
// the judge's user table.
func (s *Session) Users(ctx context.Context, opts UserListOptions) ([]User, error) {
	params := url.Values{}
	setFlag := func(name string, on bool) {
		if on {
			params.Set(name, "1")
		}
	}
	setFlag("show_not_ok", opts.ShowNotOK)
	setFlag("show_invisible", opts.ShowInvisible)
	setFlag("show_banned", opts.ShowBanned)
	setFlag("show_only_pending", opts.OnlyPending)

	body, err := s.GetPage(ctx, PageUsersAJAX, params)
	if err != nil {
		return nil, err
	}
	records, err := decodeUserPayload(body)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(records))
	for _, record := range records {
		u, err := decodeUserRecord(record)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// EncodeRunMask packs run ids into the judge's rejudge bitmask: 64-bit
// chunks with bit id%64 of chunk id/64 set, rendered as lowercase hex
// words joined by "+". The returned size is the chunk count.
func EncodeRunMask(ids []int) (int, string) {
	maxID := -1
	for _, id := range ids {
		if id > maxID {
			maxID = id
		}
	}
	if maxID < 0 {
		return 0, ""
	}
	chunks := make([]uint64, maxID/64+1)
	for _, id := range ids {
		chunks[id/64] |= 1 << (uint(id) % 64)
	}
	words := make([]string, len(chunks))
	for i, chunk := range chunks {
		words[i] = strconv.FormatUint(chunk, 16)
	}
	return len(chunks), strings.Join(words, "+")
}

// RejudgeRuns schedules the given runs for rejudging. Duplicate ids
// collapse into the mask; an empty set is a no-op.
func (s *Session) RejudgeRuns(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	size, mask := EncodeRunMask(ids)
	_, err := s.PostPage(ctx, PageRejudgeDisplayed, url.Values{
		"run_mask_size": {strconv.Itoa(size)},
		"run_mask":      {mask},
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "rejudge", nil, fmt.Sprintf("%d runs, mask %s", len(ids), mask))
	return nil
}

// RejudgeProblem schedules every run of one problem for rejudging.
func (s *Session) RejudgeProblem(ctx context.Context, probID int) error {
	_, err := s.PostPage(ctx, PageRejudgeProblem, url.Values{
		"prob_id": {strconv.Itoa(probID)},
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "rejudge-problem", nil, strconv.Itoa(probID))
	return nil
}

// SetRunStatus forces the verdict of one run.
func (s *Session) SetRunStatus(ctx context.Context, runID, status int) error {
	_, err := s.PostPage(ctx, PageSetRunStatus, url.Values{
		"run_id": {strconv.Itoa(runID)},
		"status": {strconv.Itoa(status)},
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "set-status", &runID, StatusDescription(status))
	return nil
}

// SetRunLanguage reassigns the language of one run.
func (s *Session) SetRunLanguage(ctx context.Context, runID, langID int) error {
	return s.editRun(ctx, PageChangeRunLanguage, "set-language", runID, strconv.Itoa(langID))
}

// SetRunProblem moves one run to another problem.
func (s *Session) SetRunProblem(ctx context.Context, runID, probID int) error {
	return s.editRun(ctx, PageChangeRunProbID, "set-problem", runID, strconv.Itoa(probID))
}

// SetRunScore overrides the score of one run.
func (s *Session) SetRunScore(ctx context.Context, runID, score int) error {
	return s.editRun(ctx, PageChangeRunScore, "set-score", runID, strconv.Itoa(score))
}

// SetRunScoreAdj overrides the score adjustment of one run.
func (s *Session) SetRunScoreAdj(ctx context.Context, runID, adj int) error {
	return s.editRun(ctx, PageChangeRunScoreAdj, "set-score-adj", runID, strconv.Itoa(adj))
}

func (s *Session) editRun(ctx context.Context, page Page, action string, runID int, param string) error {
	_, err := s.PostPage(ctx, page, url.Values{
		"run_id": {strconv.Itoa(runID)},
		"param":  {param},
	})
	if err != nil {
		return err
	}
	s.audit(ctx, action, &runID, param)
	return nil
}

// commentPages maps a verdict applied together with a comment to the
// page that performs both in one step.
var commentPages = map[int]Page{
	StatusIgnored:  PageIgnoreWithComment,
	StatusOK:       PageOKWithComment,
	StatusRejected: PageRejectWithComment,
	StatusSummoned: PageSummonWithComment,
}

// SendRunComment attaches a comment to a run. A nil status sends a
// bare comment; otherwise the status must be one of OK, Ignored,
// Rejected or Summoned, which the judge applies together with the
// comment.
func (s *Session) SendRunComment(ctx context.Context, runID int, text string, status *int) error {
	page := PageSendComment
	if status != nil {
		var ok bool
		page, ok = commentPages[*status]
		if !ok {
			return fmt.Errorf("status %s cannot accompany a comment", StatusDescription(*status))
		}
	}
	_, err := s.PostPage(ctx, page, url.Values{
		"run_id":   {strconv.Itoa(runID)},
		"msg_text": {text},
	})
	if err != nil {
		return err
	}
	detail := "comment"
	if status != nil {
		detail = "comment with " + StatusDescription(*status)
	}
	s.audit(ctx, "comment", &runID, detail)
	return nil
}

// audit records a completed mutation. Failure to record never fails
// the mutation itself.
func (s *Session) audit(ctx context.Context, action string, runID *int, detail string) {
	if s.store == nil {
		return
	}
	err := s.store.AppendAudit(ctx, store.AuditRecord{
		Action: action,
		RunID:  runID,
		Detail: detail,
	})
	if err != nil {
		log.WithError(err).Warn("audit record not persisted")
	}
}
