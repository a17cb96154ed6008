package recorder

import (
	"bytes"
	"strings"
	"text/template"
	"time"
)

// Timestamp holds the broken-out date/time fields for a single point in time.
type Timestamp struct {
	Year   string // 4-digit year
	Month  string // 2-digit month (01-12)
	Day    string // 2-digit day (01-31)
	Hour   string // 2-digit hour, 24h (00-23)
	Minute string // 2-digit minute (00-59)
	Second string // 2-digit second (00-59)
	Unix   int64
}

// NewTimestamp creates a Timestamp from a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Year:   t.Format("2006"),
		Month:  t.Format("01"),
		Day:    t.Format("02"),
		Hour:   t.Format("15"),
		Minute: t.Format("04"),
		Second: t.Format("05"),
		Unix:   t.Unix(),
	}
}

// OutputData holds the variables available in output directory templates.
//
// Usage examples:
//
//	recordings/{{.Platform}}/{{.Name}}
//	archive/{{.Started.Year}}-{{.Started.Month}}/{{.ID}}
type OutputData struct {
	Platform string
	ID       string // resolved platform channel ID
	Name     string // display name
	Started  Timestamp
}

// ParseOutput parses an output directory template. Plain paths without
// actions are valid templates.
func ParseOutput(pattern string) (*template.Template, error) {
	return template.New("output").Option("missingkey=error").Parse(pattern)
}

// RenderOutput evaluates tpl against data. Path separators in substituted
// names are replaced so a channel name cannot escape its directory.
func RenderOutput(tpl *template.Template, data OutputData) (string, error) {
	data.Name = fullWidth.Replace(data.Name)
	data.ID = fullWidth.Replace(data.ID)
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
