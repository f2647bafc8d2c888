package content

import (
	"bytes"
	"errors"
	"html/template"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy        = bluemonday.UGCPolicy()
	strictPolicy  = bluemonday.StrictPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	hexColorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	spaceRun      = regexp.MustCompile(`\s+`)
	slugDisallow  = regexp.MustCompile(`[^a-z0-9-]`)

	markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))
)

// Sanitize removes unsafe HTML from the input string using the UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// StripTags removes every tag. Used for short profile fields such as avatars.
func StripTags(input string) string {
	return strictPolicy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// RenderMarkdown turns a chat message into sanitized HTML.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}

// ValidateUsername checks that the username is at least two characters long
// and contains only alphanumerics, dot, dash or underscore.
func ValidateUsername(username string) error {
	if utf8.RuneCountInString(username) < 2 {
		return errors.New("Username must be 2+ characters")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("Username may only contain letters, digits, dot, dash and underscore")
	}
	return nil
}

func ValidateColor(color string) bool {
	return hexColorRegex.MatchString(color)
}

// Slugify lowercases a channel name, turns whitespace runs into single dashes
// and drops anything outside [a-z0-9-].
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = spaceRun.ReplaceAllString(s, "-")
	return slugDisallow.ReplaceAllString(s, "")
}
