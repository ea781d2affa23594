package resolve

import (
	"fmt"
	"strings"
)

// PrimaryPrompt asks whether the filename alone already names the book. The model must
// answer with "Title - Author" or the bare sentinel.
func PrimaryPrompt(stem, lang, sentinel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a metadata assistant. File name: `%s`. Language: `%s`.\n\n", stem, lang)
	b.WriteString("If the file name clearly contains a clean, usable title and full author name, return it in this format:\n")
	b.WriteString("`Title - AuthorFullName`\n")
	b.WriteString("Clean it by removing brackets, site names, extra symbols, and fix spacing/capitalization.\n")
	b.WriteString("Download-site tags such as 'Z-Library' are not authors; drop them.\n\n")
	b.WriteString("If the file name is too vague, noisy, or lacks usable info, reply with ONLY this word:\n")
	fmt.Fprintf(&b, "`%s`\n\n", sentinel)
	fmt.Fprintf(&b, "No markdown, no extra words, only the formatted result or the keyword `%s`.", sentinel)
	return b.String()
}

// FallbackPrompt embeds a slice of the document text and asks for a title and author taken
// from the content rather than the filename.
func FallbackPrompt(stem, sample string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a metadata assistant. The file name `%s` was too vague.\n", stem)
	b.WriteString("Use the text below to extract a short (5-15 word) title and the full author name.\n")
	b.WriteString("Return it in this exact format:\n")
	b.WriteString("`Title - AuthorFullName`\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- ASCII only\n")
	b.WriteString("- No markdown, no extra commentary, just the formatted result\n\n")
	b.WriteString("Text:\n")
	b.WriteString(sample)
	return b.String()
}

// firstRunes returns at most n leading characters of s without splitting a UTF-8 sequence.
func firstRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
