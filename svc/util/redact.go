package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var secretPattern = regexp.MustCompile(`(?i)(password|token|secret|key|dsn)=([^\s&]+)`)

const redactKeepRunes = 10

// RedactPasteContent keeps the first and last few characters of content.
// Cuts fall on rune boundaries.
func RedactPasteContent(content string) string {
	if content == "" {
		return ""
	}
	if utf8.RuneCountInString(content) <= 2*redactKeepRunes {
		return "[REDACTED]"
	}
	head := 0
	for i := 0; i < redactKeepRunes; i++ {
		_, size := utf8.DecodeRuneInString(content[head:])
		head += size
	}
	tail := len(content)
	for i := 0; i < redactKeepRunes; i++ {
		_, size := utf8.DecodeLastRuneInString(content[:tail])
		tail -= size
	}
	return content[:head] + "...[REDACTED]..." + content[tail:]
}

func RedactSecret(s string) string {
	return secretPattern.ReplaceAllString(s, "$1=[REDACTED]")
}

// RedactURL hides the userinfo password in connection strings such as
// redis:// and postgres:// URLs.
func RedactURL(raw string) string {
	scheme := strings.Index(raw, "://")
	if scheme < 0 {
		return RedactSecret(raw)
	}
	rest := raw[scheme+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return RedactSecret(raw)
	}
	user := rest[:at]
	if i := strings.Index(user, ":"); i >= 0 {
		user = user[:i] + ":***"
	}
	return RedactSecret(raw[:scheme+3] + user + rest[at:])
}

// RedactID keeps enough of a paste id to correlate log lines.
func RedactID(id string) string {
	if len(id) <= 3 {
		return "***"
	}
	return id[:3] + "***"
}

// RedactPastePath masks the id segment of paste download paths.
func RedactPastePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/pob/") && len(path) > len("/pob/"):
		return "/pob/" + RedactID(path[len("/pob/"):])
	case strings.HasSuffix(path, "/raw") && strings.Count(path, "/") == 2:
		return "/" + RedactID(path[1:len(path)-len("/raw")]) + "/raw"
	}
	return path
}
