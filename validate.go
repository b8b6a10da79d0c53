package upload

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Form limits.
const (
	MaxHashtags      = 5
	MaxCommentLength = 140
)

var hashtagPattern = regexp.MustCompile(`(?i)^#[a-zа-яё0-9]{1,19}$`)

// FormValidator applies the upload form rules: hashtags, comment length and
// the editor ranges.
type FormValidator struct{}

// Validate returns a *ValidationError for the first field that breaks a rule.
func (FormValidator) Validate(s *Session) error {
	if s == nil {
		return ErrNoMedia
	}
	if err := ValidateHashtags(s.Hashtags); err != nil {
		return err
	}
	if err := ValidateComment(s.Description); err != nil {
		return err
	}
	return validateTransform(s.Transform())
}

// ValidateHashtags checks a space-separated hashtag list. Empty input is
// valid. Tags are compared case-insensitively.
func ValidateHashtags(value string) error {
	tags := strings.Fields(strings.ToLower(value))
	if len(tags) == 0 {
		return nil
	}
	if len(tags) > MaxHashtags {
		return &ValidationError{Field: "hashtags", Message: fmt.Sprintf("at most %d tags allowed", MaxHashtags)}
	}

	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if !hashtagPattern.MatchString(tag) {
			return &ValidationError{
				Field:   "hashtags",
				Message: fmt.Sprintf("%q must start with # followed by 1-19 letters or digits", tag),
			}
		}
		if _, dup := seen[tag]; dup {
			return &ValidationError{Field: "hashtags", Message: fmt.Sprintf("%q is repeated", tag)}
		}
		seen[tag] = struct{}{}
	}
	return nil
}

// ValidateComment checks the description length in characters.
func ValidateComment(value string) error {
	if n := utf8.RuneCountInString(value); n > MaxCommentLength {
		return &ValidationError{
			Field:   "description",
			Message: fmt.Sprintf("%d characters, at most %d allowed", n, MaxCommentLength),
		}
	}
	return nil
}

func validateTransform(t Transform) error {
	if t.Scale < ScaleMin || t.Scale > ScaleMax {
		return &ValidationError{Field: "scale", Message: fmt.Sprintf("%d%% outside %d..%d", t.Scale, ScaleMin, ScaleMax)}
	}
	e, ok := Effects[t.Effect]
	if !ok {
		return &ValidationError{Field: "effect", Message: fmt.Sprintf("unknown effect %q", t.Effect)}
	}
	if t.EffectLevel != nil && (*t.EffectLevel < e.Min || *t.EffectLevel > e.Max) {
		return &ValidationError{
			Field:   "effect_level",
			Message: fmt.Sprintf("%g outside %g..%g for %s", *t.EffectLevel, e.Min, e.Max, t.Effect),
		}
	}
	return nil
}

var _ Validator = FormValidator{}
