package organizer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DateLayout is the normalized event date format.
const DateLayout = "2006-01-02"

// dateLayouts are accepted verbatim before natural-language parsing.
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// numericDate matches input that can only be meant as a calendar date.
var numericDate = regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}$`)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDate normalizes a user-entered date to YYYY-MM-DD. It accepts the
// layouts above and English phrases such as "next friday" or "tomorrow",
// resolved relative to now. A phrase must make up the whole input.
//
// Any other text ("TBD", "after the exam") is returned trimmed but
// otherwise unchanged. Numeric dates that name no real day, such as
// 2024-02-30, are rejected.
func ParseDate(text string, now time.Time) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("date is required")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	if numericDate.MatchString(text) {
		return "", fmt.Errorf("invalid date %q", text)
	}

	r, err := dateParser.Parse(text, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil || r.Index != 0 || len(r.Text) != len(text) {
		return text, nil
	}
	return r.Time.Format(DateLayout), nil
}
