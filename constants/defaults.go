package constants

import "time"

const (
	// DefaultLanguage is used whenever language detection fails or the sample is too short.
	DefaultLanguage = "en"

	// LanguageSampleChars bounds the slice of sample text handed to the language detector.
	LanguageSampleChars = 500
	// FallbackSampleChars bounds the slice of sample text embedded in the fallback prompt.
	FallbackSampleChars = 1000
	// MaxSampleChars caps how much extracted text a job carries around.
	MaxSampleChars = 8000
	// PDFMaxPages bounds how many leading PDF pages are scanned for text.
	PDFMaxPages = 10

	// MaxNameLength is the longest accepted "Title - Author" name, in characters.
	MaxNameLength = 150
	// NameSeparator delimits title from author.
	NameSeparator = "-"

	// MoreSentinel is the primary-phase reply meaning "filename is not enough".
	MoreSentinel = "MORE"

	DefaultConcurrency = 4
	DefaultCallTimeout = 45 * time.Second
)
