package ejudge

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// displayLocation is the fixed timezone all parsed timestamps are
// normalized to, regardless of the server's own timezone.
var displayLocation = time.FixedZone("MSK", 3*60*60)

// Timestamp layouts seen in judge tables.
var cellTimeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseCellTime interprets raw in the server's location and converts it
// to the display location. serverLoc == nil means UTC.
func parseCellTime(field, raw string, serverLoc *time.Location) (time.Time, error) {
	if serverLoc == nil {
		serverLoc = time.UTC
	}
	for _, layout := range cellTimeLayouts {
		t, err := time.ParseInLocation(layout, raw, serverLoc)
		if err == nil {
			return t.In(displayLocation), nil
		}
	}
	return time.Time{}, parseErrorf(field, raw, "unrecognized timestamp")
}

// parseClarFlag accepts the single-character clarification flag column.
// Observed values: "" (plain), "N" (unanswered), "A" (answered), "R".
func parseClarFlag(field, raw string) (string, error) {
	flag := strings.TrimSpace(raw)
	if utf8.RuneCountInString(flag) > 1 {
		return "", parseErrorf(field, raw, "flag is not a single character")
	}
	return flag, nil
}

// decodeCellText repairs mis-encoded cell content instead of failing:
// valid UTF-8 passes through, otherwise the bytes are re-read as
// windows-1251, and as a last resort invalid sequences are replaced.
func decodeCellText(raw string) string {
	if utf8.ValidString(raw) {
		return raw
	}
	if fixed, err := charmap.Windows1251.NewDecoder().String(raw); err == nil && utf8.ValidString(fixed) {
		return fixed
	}
	return strings.ToValidUTF8(raw, string(utf8.RuneError))
}

const compilerOutputUnavailable = "Compiler output is not available"

// decodeBase64Payload decodes an embedded binary payload (compiler
// output and the like). Malformed input downgrades to a placeholder
// naming the payload rather than an error.
func decodeBase64Payload(data string) string {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return "Cannot decode compiler output: " + data
	}
	return decodeCellText(string(decoded))
}

func parseCellInt(field, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, parseErrorf(field, raw, "not an integer")
	}
	return v, nil
}

func parseCellInt64(field, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, parseErrorf(field, raw, "not an integer")
	}
	return v, nil
}

// parseOptionalInt treats empty and "N/A" cells as absent.
func parseOptionalInt(field, raw string) (*int, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "N/A" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, parseErrorf(field, raw, "not an optional integer")
	}
	return &v, nil
}

// coerceBool accepts the boolean shapes the users-AJAX endpoint emits:
// JSON booleans, numbers (non-zero is true) and a few string markers.
func coerceBool(field string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "no":
			return false, nil
		case "1", "true", "yes":
			return true, nil
		}
		return false, parseErrorf(field, v, "not a boolean marker")
	case nil:
		return false, nil
	}
	return false, parseErrorf(field, "", "unsupported boolean type %T", value)
}

func coerceInt(field string, value any) (int, error) {
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, parseErrorf(field, v, "not an integer")
		}
		return n, nil
	}
	return 0, parseErrorf(field, "", "unsupported integer type %T", value)
}

func coerceInt64(field string, value any) (int64, error) {
	switch v := value.(type) {
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, parseErrorf(field, v, "not an integer")
		}
		return n, nil
	}
	return 0, parseErrorf(field, "", "unsupported integer type %T", value)
}

func coerceString(field string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return decodeCellText(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case nil:
		return "", nil
	}
	return "", parseErrorf(field, "", "unsupported string type %T", value)
}
