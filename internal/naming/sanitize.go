// Package naming turns an untrusted model reply into a filesystem-safe "Title - Author" stem.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/bookrenamer/constants"
)

var (
	invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	// \s alone is ASCII-only; \p{Z} adds NBSP, ideographic and other Unicode spaces
	whitespace = regexp.MustCompile(`[\s\p{Z}\x{0085}]+`)
)

// ValidName is a cleaned stem that passed every structural rule. It carries no extension.
type ValidName string

func (n ValidName) String() string { return string(n) }

// Title returns the part before the separator. A spaced " - " is preferred so hyphenated
// titles stay intact.
func (n ValidName) Title() string {
	title, _ := n.split()
	return title
}

// Author returns the part after the separator.
func (n ValidName) Author() string {
	_, author := n.split()
	return author
}

func (n ValidName) split() (string, string) {
	s := string(n)
	sep := " " + constants.NameSeparator + " "
	if !strings.Contains(s, sep) {
		sep = constants.NameSeparator
	}
	title, author, _ := strings.Cut(s, sep)
	return strings.TrimSpace(title), strings.TrimSpace(author)
}

// RejectCode classifies why a reply was not accepted.
type RejectCode string

const (
	RejectEmpty          RejectCode = "empty"
	RejectTooLong        RejectCode = "too_long"
	RejectNoSeparator    RejectCode = "no_separator"
	RejectMissingSegment RejectCode = "missing_segment"
)

// Rejection is returned by Validate when the cleaned name breaks a rule.
type Rejection struct {
	Code    RejectCode
	Input   string
	Cleaned string
}

func (r *Rejection) Error() string {
	switch r.Code {
	case RejectTooLong:
		return fmt.Sprintf("name longer than %d characters: %q", constants.MaxNameLength, truncate(r.Cleaned, 60))
	case RejectNoSeparator:
		return fmt.Sprintf("missing %q separator: %q", constants.NameSeparator, truncate(r.Cleaned, 60))
	case RejectMissingSegment:
		return fmt.Sprintf("title or author segment empty: %q", truncate(r.Cleaned, 60))
	default:
		return "empty name"
	}
}

// Clean strips characters that are illegal in file names, collapses whitespace and trims.
func Clean(raw string) string {
	s := whitespace.ReplaceAllString(raw, " ")
	s = invalidChars.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Validate cleans raw and enforces the structural rules. It never panics; a rule violation
// comes back as a *Rejection.
func Validate(raw string) (ValidName, error) {
	cleaned := Clean(raw)
	reject := func(code RejectCode) (ValidName, error) {
		return "", &Rejection{Code: code, Input: raw, Cleaned: cleaned}
	}

	if cleaned == "" {
		return reject(RejectEmpty)
	}
	if utf8.RuneCountInString(cleaned) > constants.MaxNameLength {
		return reject(RejectTooLong)
	}
	if !strings.Contains(cleaned, constants.NameSeparator) {
		return reject(RejectNoSeparator)
	}

	segments := 0
	for _, part := range strings.Split(cleaned, constants.NameSeparator) {
		if strings.TrimSpace(part) != "" {
			segments++
		}
	}
	if segments < 2 {
		return reject(RejectMissingSegment)
	}
	return ValidName(cleaned), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
