package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns that should never appear in a user query.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

const minQueryLength = 3

// ValidateQuestion checks a user question before any vector work happens.
func ValidateQuestion(q Question) error {
	if strings.TrimSpace(q.VideoID) == "" {
		return NewValidationError("video_id", q.VideoID, ErrInvalidInput)
	}

	text := strings.TrimSpace(q.Text)
	if utf8.RuneCountInString(text) < minQueryLength {
		return NewValidationError("text", text, ErrQueryTooShort)
	}

	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("text", text, ErrQueryInjection)
		}
	}

	return nil
}

// ValidateVideoUpload checks title and source path of a new video record.
func ValidateVideoUpload(v Video) error {
	if strings.TrimSpace(v.SourcePath) == "" {
		return NewValidationError("source_path", v.SourcePath, ErrInvalidInput)
	}
	if strings.TrimSpace(v.Title) == "" {
		return NewValidationError("title", v.Title, ErrInvalidInput)
	}
	return nil
}
