package ejudge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Run status codes as reported by the judge. The first group also
// appears in per-test results.
const (
	StatusCompiling = 98
	StatusCompiled  = 97
	StatusRunning   = 96

	StatusOK = 0
	StatusCE = 1
	StatusRE = 2
	StatusTL = 3
	StatusPE = 4
	StatusWA = 5
	StatusML = 12
	StatusWT = 15

	StatusCheckFailed   = 6
	StatusPartial       = 7
	StatusAccepted      = 8
	StatusIgnored       = 9
	StatusDisqualified  = 10
	StatusPending       = 11
	StatusSecErr        = 13
	StatusStyleErr      = 14
	StatusPendingReview = 16
	StatusRejected      = 17
	StatusSkipped       = 18
	StatusSyncErr       = 19
	StatusSummoned      = 23

	StatusFullRejudge = 95
	StatusRejudge     = 99
	StatusNoChange    = 100
)

var statusDescriptions = map[int]string{
	StatusCompiling:     "Compiling",
	StatusCompiled:      "Compiled",
	StatusRunning:       "Running",
	StatusOK:            "OK",
	StatusCE:            "Compilation error",
	StatusRE:            "Runtime error",
	StatusTL:            "Time limit exceeded",
	StatusPE:            "Presentation error",
	StatusWA:            "Wrong answer",
	StatusML:            "Memory limit exceeded",
	StatusWT:            "Wall time-limit exceeded",
	StatusCheckFailed:   "Check failed",
	StatusPartial:       "Partial solution",
	StatusAccepted:      "Accepted for testing",
	StatusIgnored:       "Ignored",
	StatusDisqualified:  "Disqualified",
	StatusPending:       "Pending check",
	StatusSecErr:        "Security violation",
	StatusStyleErr:      "Coding style violation",
	StatusPendingReview: "Pending review",
	StatusRejected:      "Rejected",
	StatusSkipped:       "Skipped",
	StatusSyncErr:       "Synchronization error",
	StatusSummoned:      "Summoned for defence",
	StatusFullRejudge:   "Full rejudge",
	StatusRejudge:       "Rejudge",
	StatusNoChange:      "No change",
}

// StatusDescription resolves a status code to its human name.
func StatusDescription(code int) string {
	if d, ok := statusDescriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("Unknown status %d", code)
}

var statusNames = map[string]int{
	"ok":             StatusOK,
	"ce":             StatusCE,
	"re":             StatusRE,
	"tl":             StatusTL,
	"pe":             StatusPE,
	"wa":             StatusWA,
	"ml":             StatusML,
	"wt":             StatusWT,
	"check-failed":   StatusCheckFailed,
	"partial":        StatusPartial,
	"accepted":       StatusAccepted,
	"ignored":        StatusIgnored,
	"disqualified":   StatusDisqualified,
	"pending":        StatusPending,
	"sec-err":        StatusSecErr,
	"style-err":      StatusStyleErr,
	"pending-review": StatusPendingReview,
	"rejected":       StatusRejected,
	"skipped":        StatusSkipped,
	"sync-err":       StatusSyncErr,
	"summoned":       StatusSummoned,
}

// ParseStatus resolves a short status name or a numeric code.
func ParseStatus(s string) (int, error) {
	if code, ok := statusNames[strings.ToLower(s)]; ok {
		return code, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown status %q", s)
	}
	if _, ok := statusDescriptions[code]; !ok {
		return 0, fmt.Errorf("unknown status code %d", code)
	}
	return code, nil
}

type runStatusReply struct {
	Run struct {
		Status int `json:"status"`
	} `json:"run"`
	TestingReport *struct {
		Tests []TestResult `json:"tests"`
	} `json:"testing_report"`
	CompilerOutput *struct {
		Content struct {
			Data string `json:"data"`
		} `json:"content"`
	} `json:"compiler_output"`
}

// newRunStatus decodes the run-status-json result payload. A malformed
// compiler-output encoding downgrades to a placeholder.
func newRunStatus(result json.RawMessage) (RunStatus, error) {
	var reply runStatusReply
	if err := json.Unmarshal(result, &reply); err != nil {
		return RunStatus{}, &APIError{Code: APIErrInvalidResponse, Message: "undecodable run status: " + err.Error()}
	}
	rs := RunStatus{
		Status:         reply.Run.Status,
		CompilerOutput: compilerOutputUnavailable,
	}
	if reply.TestingReport != nil {
		rs.Tests = reply.TestingReport.Tests
	}
	if reply.CompilerOutput != nil && reply.CompilerOutput.Content.Data != "" {
		rs.CompilerOutput = decodeBase64Payload(reply.CompilerOutput.Content.Data)
	}
	return rs, nil
}

// IsTesting reports whether the run is still moving through the
// compile/run pipeline.
func (rs RunStatus) IsTesting() bool {
	return rs.Status >= StatusFullRejudge && rs.Status <= StatusRejudge
}

func (rs RunStatus) String() string {
	return StatusDescription(rs.Status)
}
