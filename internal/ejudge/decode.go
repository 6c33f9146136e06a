package ejudge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Row decoding is table-driven: each entity declares an ordered schema
// of cells (HTML rows) or a keyed schema (JSON records), and a single
// generic routine walks it. Cells marked skip are server-side-only or
// not reverse-engineered yet.

type cellField[T any] struct {
	name string
	skip bool
	set  func(dst *T, raw string, serverLoc *time.Location) error
}

func decodeCells[T any](cells []string, schema []cellField[T], serverLoc *time.Location) (T, error) {
	var dst T
	if len(cells) != len(schema) {
		return dst, fmt.Errorf("%w: got %d cells, want %d", ErrSchemaMismatch, len(cells), len(schema))
	}
	for i, field := range schema {
		if field.skip {
			continue
		}
		if err := field.set(&dst, strings.TrimSpace(cells[i]), serverLoc); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

type jsonField[T any] struct {
	name string
	key  string
	skip bool
	set  func(dst *T, value any) error
}

func decodeRecord[T any](record map[string]any, schema []jsonField[T]) (T, error) {
	var dst T
	for _, field := range schema {
		if field.skip {
			continue
		}
		value, ok := record[field.key]
		if !ok {
			return dst, fmt.Errorf("%w: missing key %q", ErrSchemaMismatch, field.key)
		}
		if err := field.set(&dst, value); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

var submissionSchema = []cellField[Submission]{
	{name: "run_id", set: func(s *Submission, raw string, _ *time.Location) error {
		id, err := parseCellInt("run_id", raw)
		s.ID = id
		return err
	}},
	{name: "time", skip: true},
	{name: "size_or_user", set: func(s *Submission, raw string, _ *time.Location) error {
		s.sizeOrUser = raw
		return nil
	}},
	{name: "problem", set: func(s *Submission, raw string, _ *time.Location) error {
		s.Problem = decodeCellText(raw)
		return nil
	}},
	{name: "lang", set: func(s *Submission, raw string, _ *time.Location) error {
		s.Lang = decodeCellText(raw)
		return nil
	}},
	{name: "status", set: func(s *Submission, raw string, _ *time.Location) error {
		s.Status = decodeCellText(raw)
		return nil
	}},
	{name: "tests_passed", skip: true},
	{name: "score", set: func(s *Submission, raw string, _ *time.Location) error {
		score, err := parseOptionalInt("score", raw)
		s.Score = score
		return err
	}},
	{name: "score_adj", set: func(s *Submission, raw string, _ *time.Location) error {
		adj, err := parseOptionalInt("score_adj", raw)
		s.ScoreAdj = adj
		return err
	}},
}

// decodeSubmissionRow maps one submissions-table row to a Submission.
func decodeSubmissionRow(cells []string) (Submission, error) {
	sub, err := decodeCells(cells, submissionSchema, nil)
	if err != nil {
		return Submission{}, err
	}
	return newSubmission(sub), nil
}

var clarificationSchema = []cellField[Clarification]{
	{name: "clar_id", set: func(c *Clarification, raw string, _ *time.Location) error {
		id, err := parseCellInt("clar_id", raw)
		c.ID = id
		return err
	}},
	{name: "flags", set: func(c *Clarification, raw string, _ *time.Location) error {
		flag, err := parseClarFlag("flags", raw)
		c.Flag = flag
		return err
	}},
	{name: "time", set: func(c *Clarification, raw string, serverLoc *time.Location) error {
		t, err := parseCellTime("time", raw, serverLoc)
		c.Time = t
		return err
	}},
	{name: "ip", set: func(c *Clarification, raw string, _ *time.Location) error {
		c.IP = raw
		return nil
	}},
	{name: "size", set: func(c *Clarification, raw string, _ *time.Location) error {
		size, err := parseCellInt64("size", raw)
		c.Size = size
		return err
	}},
	{name: "from_user", set: func(c *Clarification, raw string, _ *time.Location) error {
		c.From = decodeCellText(raw)
		return nil
	}},
	{name: "to", set: func(c *Clarification, raw string, _ *time.Location) error {
		c.To = decodeCellText(raw)
		return nil
	}},
	{name: "subject", set: func(c *Clarification, raw string, _ *time.Location) error {
		c.Subject = decodeCellText(raw)
		return nil
	}},
	{name: "details", set: func(c *Clarification, raw string, _ *time.Location) error {
		c.Details = decodeCellText(raw)
		return nil
	}},
}

// decodeClarificationRow maps one messages-table row to a
// Clarification. serverLoc is the judge's timezone, needed to convert
// the time column to the display timezone.
func decodeClarificationRow(cells []string, serverLoc *time.Location) (Clarification, error) {
	return decodeCells(cells, clarificationSchema, serverLoc)
}

var userSchema = []jsonField[User]{
	// Row number in the rendered table; server-side only.
	{name: "serial", key: "serial", skip: true},
	{name: "id", key: "user_id", set: func(u *User, v any) error {
		id, err := coerceInt("user_id", v)
		u.ID = id
		return err
	}},
	{name: "login", key: "user_login", set: func(u *User, v any) error {
		login, err := coerceString("user_login", v)
		u.Login = login
		return err
	}},
	{name: "name", key: "user_name", set: func(u *User, v any) error {
		name, err := coerceString("user_name", v)
		u.Name = name
		return err
	}},
	{name: "is_banned", key: "is_banned", set: func(u *User, v any) error {
		b, err := coerceBool("is_banned", v)
		u.IsBanned = b
		return err
	}},
	{name: "is_invisible", key: "is_invisible", set: func(u *User, v any) error {
		b, err := coerceBool("is_invisible", v)
		u.IsInvisible = b
		return err
	}},
	{name: "is_locked", key: "is_locked", set: func(u *User, v any) error {
		b, err := coerceBool("is_locked", v)
		u.IsLocked = b
		return err
	}},
	{name: "is_incomplete", key: "is_incomplete", set: func(u *User, v any) error {
		b, err := coerceBool("is_incomplete", v)
		u.IsIncomplete = b
		return err
	}},
	{name: "is_disqualified", key: "is_disqualified", set: func(u *User, v any) error {
		b, err := coerceBool("is_disqualified", v)
		u.IsDisqualified = b
		return err
	}},
	{name: "is_privileged", key: "is_privileged", set: func(u *User, v any) error {
		b, err := coerceBool("is_privileged", v)
		u.IsPrivileged = b
		return err
	}},
	{name: "is_reg_readonly", key: "is_reg_readonly", set: func(u *User, v any) error {
		b, err := coerceBool("is_reg_readonly", v)
		u.IsRegReadonly = b
		return err
	}},
	// Timestamps are not parsed; converting them needs per-session
	// timezone plumbing that nothing downstream wants yet.
	{name: "registration_date", key: "create_time", skip: true},
	{name: "login_date", key: "last_login_time", skip: true},
	{name: "run_count", key: "run_count", set: func(u *User, v any) error {
		n, err := coerceInt("run_count", v)
		u.RunCount = n
		return err
	}},
	{name: "run_size", key: "run_size", set: func(u *User, v any) error {
		n, err := coerceInt64("run_size", v)
		u.RunSize = n
		return err
	}},
	{name: "clar_count", key: "clar_count", set: func(u *User, v any) error {
		n, err := coerceInt("clar_count", v)
		u.ClarCount = n
		return err
	}},
	{name: "result_score", key: "result_score", skip: true},
}

// decodeUserRecord maps one users-AJAX JSON record to a User.
func decodeUserRecord(record map[string]any) (User, error) {
	return decodeRecord(record, userSchema)
}

// decodeUserPayload unwraps the users-AJAX body. An absent data array
// means no users matched.
func decodeUserPayload(body []byte) ([]map[string]any, error) {
	var payload struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &APIError{Code: APIErrInvalidResponse, Message: "undecodable user list: " + err.Error()}
	}
	return payload.Data, nil
}
