package ejudge

import "time"

// Sids is the pair of opaque session tokens issued by the judge. Both
// must be present and consistent with the cookie jar for authenticated
// requests to succeed.
type Sids struct {
	SID   string
	EJSID string
}

func (s Sids) Valid() bool {
	return s.SID != "" && s.EJSID != ""
}

// Submission is a read-only snapshot of one row of the judge's
// submissions table. Mutations go through Session methods and do not
// update an already-parsed snapshot; re-fetch after mutating.
type Submission struct {
	ID       int
	User     string
	Problem  string
	Lang     string
	Status   string
	Score    *int
	ScoreAdj *int
	// Size is only meaningful when the size-or-user column carried a
	// number (non-judge rendering); the judge rendering puts the user
	// login there.
	Size int64

	sizeOrUser string
}

// newSubmission finalizes a decoded row: the user login is derived once
// from the raw size-or-user column, and the size falls out of the same
// column when it is numeric.
func newSubmission(sub Submission) Submission {
	sub.User = decodeCellText(sub.sizeOrUser)
	if n, err := parseCellInt64("size_or_user", sub.sizeOrUser); err == nil {
		sub.Size = n
	}
	return sub
}

// Clarification is one row of the judge's messages table, immutable
// after parse. Time is converted from the server timezone to the fixed
// display timezone.
type Clarification struct {
	ID      int
	Flag    string
	Time    time.Time
	IP      string
	Size    int64
	From    string
	To      string
	Subject string
	Details string
}

// User is a subset of one record of the users-AJAX endpoint.
type User struct {
	ID             int
	Login          string
	Name           string
	IsBanned       bool
	IsInvisible    bool
	IsLocked       bool
	IsIncomplete   bool
	IsDisqualified bool
	IsPrivileged   bool
	IsRegReadonly  bool
	RunCount       int
	RunSize        int64
	ClarCount      int
}

// TestResult is one entry of a testing report.
type TestResult struct {
	Num    int `json:"num"`
	Status int `json:"status"`
}

// RunStatus is the decoded reply of the run-status-json method:
// a status code plus optional test results and compiler output.
// Immutable once constructed.
type RunStatus struct {
	Status         int
	Tests          []TestResult
	CompilerOutput string
}
