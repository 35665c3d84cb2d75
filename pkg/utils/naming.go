package utils

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MaxNameLength is the longest folder or file name, in runes, the normalizer produces.
const MaxNameLength = 200

var (
	whitespaceRun = regexp.MustCompile(`[\s\p{Z}]+`)
	illegalChars  = regexp.MustCompile(`[\\/:*?"<>|]`)
	dashRun       = regexp.MustCompile(`-+`)
	extensionRe   = regexp.MustCompile(`\.[A-Za-z0-9]{1,10}$`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]`)
)

var mimeExtensions = map[string]string{
	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.ms-excel":                                                  "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.ms-powerpoint":                                             "ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.oasis.opendocument.text":                                   "odt",
	"application/vnd.oasis.opendocument.spreadsheet":                            "ods",
	"application/rtf":  "rtf",
	"application/zip":  "zip",
	"application/json": "json",
	"application/xml":  "xml",
	"image/jpeg":       "jpg",
	"image/png":        "png",
	"image/gif":        "gif",
	"image/webp":       "webp",
	"image/svg+xml":    "svg",
	"text/plain":       "txt",
	"text/csv":         "csv",
	"text/html":        "html",
	"audio/mpeg":       "mp3",
	"video/mp4":        "mp4",
	"message/rfc822":   "eml",
}

// NormalizeName turns raw into a name safe for folder and file names: NFC form, trimmed,
// whitespace runs collapsed, characters illegal in file names replaced with '-', dash runs
// collapsed. An empty result falls back to the equally cleaned fallback. The result is at
// most MaxNameLength runes and a cut name never ends in a space or dash.
func NormalizeName(raw, fallback string) string {
	name := truncateName(cleanName(raw))
	if name == "" {
		name = truncateName(cleanName(fallback))
	}
	return name
}

func truncateName(name string) string {
	cut := truncateRunes(name, MaxNameLength)
	if len(cut) == len(name) {
		return name
	}
	return strings.TrimRight(cut, " -")
}

func cleanName(s string) string {
	s = norm.NFC.String(s)
	s = strings.TrimSpace(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = illegalChars.ReplaceAllString(s, "-")
	s = dashRun.ReplaceAllString(s, "-")
	return strings.TrimSpace(s)
}

// ExtensionOf returns the dotted extension of name (".pdf"), or "" when it has none.
func ExtensionOf(name string) string {
	return extensionRe.FindString(name)
}

// ExtensionForMime maps a MIME type to an extension without the dot. Unknown image/* and
// text/* types use their subtype; anything else yields "".
func ExtensionForMime(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if ext, ok := mimeExtensions[mt]; ok {
		return ext
	}
	major, sub, ok := strings.Cut(mt, "/")
	if !ok || (major != "image" && major != "text") {
		return ""
	}
	if i := strings.IndexByte(sub, '+'); i >= 0 {
		sub = sub[:i]
	}
	sub = strings.TrimPrefix(sub, "x-")
	return nonAlnum.ReplaceAllString(sub, "")
}

// EnsureExtension appends an extension derived from mimeType when name has none, then
// truncates to MaxNameLength keeping the extension intact.
func EnsureExtension(name, mimeType string) string {
	if ExtensionOf(name) == "" {
		if ext := ExtensionForMime(mimeType); ext != "" {
			name = name + "." + ext
		}
	}
	return TruncateKeepingExtension(name, MaxNameLength)
}

// TruncateKeepingExtension shortens name to max runes by cutting the base name. When the
// extension alone does not fit, the whole string is hard-truncated.
func TruncateKeepingExtension(name string, max int) string {
	runes := []rune(name)
	if len(runes) <= max {
		return name
	}
	ext := []rune(ExtensionOf(name))
	if len(ext) == 0 || len(ext) >= max {
		return string(runes[:max])
	}
	base := runes[:len(runes)-len(ext)]
	return string(base[:max-len(ext)]) + string(ext)
}

// DateLabel formats t as DD-MM-YYYY in UTC.
func DateLabel(t time.Time) string {
	return t.UTC().Format("02-01-2006")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
