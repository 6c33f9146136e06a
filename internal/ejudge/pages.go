package ejudge

// Page is an action id of the judge's HTML interface. Requests carry it
// as the action query parameter. Only the pages this client uses are
// listed; the full catalogue is much larger.
type Page int

const (
	PageMain                    Page = 2
	PageViewSource              Page = 36
	PageDownloadArchiveForm     Page = 90
	PageDownloadArchive         Page = 91
	PageDownloadSource          Page = 92
	PageSetRunStatus            Page = 67
	PageChangeRunProbID         Page = 107
	PageChangeRunLanguage       Page = 108
	PageChangeRunScore          Page = 111
	PageChangeRunScoreAdj       Page = 112
	PageEditRunForm             Page = 120
	PageEditRun                 Page = 121
	PageSendComment             Page = 64
	PageIgnoreWithComment       Page = 66
	PageOKWithComment           Page = 68
	PageRejectWithComment       Page = 69
	PageSummonWithComment       Page = 86
	PageRejudgeDisplayedConfirm Page = 80
	PageRejudgeDisplayed        Page = 81
	PageRejudgeProblemConfirm   Page = 82
	PageRejudgeProblem          Page = 83
	PageUsersAJAX               Page = 302
)

// Filter reset actions are submitted as named form buttons on the main
// page, not as action ids.
const (
	resetFilterParam     = "action_65"
	resetClarFilterParam = "action_73"
	resetFilterValue     = "Reset filter"
)

// judgeOnlyPages mirrors the server-side restriction so that a non-judge
// session fails locally instead of wasting a round trip on an ambiguous
// server error.
var judgeOnlyPages = map[Page]struct{}{
	PageMain:                    {},
	PageViewSource:              {},
	PageDownloadArchiveForm:     {},
	PageDownloadArchive:         {},
	PageDownloadSource:          {},
	PageSetRunStatus:            {},
	PageChangeRunProbID:         {},
	PageChangeRunLanguage:       {},
	PageChangeRunScore:          {},
	PageChangeRunScoreAdj:       {},
	PageEditRunForm:             {},
	PageEditRun:                 {},
	PageSendComment:             {},
	PageIgnoreWithComment:       {},
	PageOKWithComment:           {},
	PageRejectWithComment:       {},
	PageSummonWithComment:       {},
	PageRejudgeDisplayedConfirm: {},
	PageRejudgeDisplayed:        {},
	PageRejudgeProblemConfirm:   {},
	PageRejudgeProblem:          {},
	PageUsersAJAX:               {},
}

func (p Page) judgeOnly() bool {
	_, ok := judgeOnlyPages[p]
	return ok
}
