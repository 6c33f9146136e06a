package ejudge

import "strconv"

// DefaultBaseURL is the judge deployment this client was written
// against. Overridable per session via AuthData.BaseURL.
const DefaultBaseURL = "https://caos.ejudge.ru"

const (
	cgiBinPath   = "/cgi-bin"
	clientPath   = cgiBinPath + "/new-client"
	judgePath    = cgiBinPath + "/new-judge"
	registerPath = cgiBinPath + "/register"
)

// AuthData is the credential set for one session. Immutable once the
// session is authenticated.
type AuthData struct {
	Login     string
	Password  string
	ContestID int
	Judge     bool
	BaseURL   string
}

func (a AuthData) baseURL() string {
	if a.BaseURL != "" {
		return a.BaseURL
	}
	return DefaultBaseURL
}

// contestRootURL is the root of the HTML interface for the session's
// privilege level.
func contestRootURL(base string, judge bool) string {
	if judge {
		return base + judgePath
	}
	return base + clientPath
}

// contestLoginURL is the contest entry URL the login form is posted to.
func contestLoginURL(a AuthData) string {
	return contestRootURL(a.baseURL(), a.Judge) + "?contest_id=" + strconv.Itoa(a.ContestID)
}
