package recorder

import (
	"strings"
	"time"

	"github.com/whisper-darkly/sticky-watch/platform"
)

const maxTitleRunes = 50

var fullWidth = strings.NewReplacer(
	`"`, "＂",
	`*`, "＊",
	`:`, "：",
	`<`, "＜",
	`>`, "＞",
	`?`, "？",
	`/`, "／",
	`\`, "＼",
	`|`, "｜",
)

// FormatFilename builds "[YYYY.MM.DD HH.MM.SS]<flag><title>.<ext>". Characters
// that are invalid in file names are replaced with their full-width forms and
// the title is cut to 50 runes.
func FormatFilename(flag, title string, t time.Time, ext string) string {
	title = fullWidth.Replace(platform.CleanTitle(title))
	if r := []rune(title); len(r) > maxTitleRunes {
		title = string(r[:maxTitleRunes])
	}
	return "[" + t.Format("2006.01.02 15.04.05") + "]" + flag + title + "." + ext
}

// Flag returns the "[platform][name]" tag used in file names and logs.
func Flag(platformName, name string) string {
	return "[" + platformName + "][" + fullWidth.Replace(name) + "]"
}
