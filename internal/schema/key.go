package schema

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidKey is returned when a key is missing one of its parts.
var ErrInvalidKey = errors.New("invalid entity key")

const keySeparator = "|"

// EntityKey identifies a logical learning unit across machines and
// repositories. It is comparable and can be used as a map key.
type EntityKey struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

var folder = cases.Fold()

// NewKey builds a normalized key. The text is NFC-normalized, case-folded
// and has its inner whitespace collapsed; language codes are lower-cased.
func NewKey(text, sourceLanguage, targetLanguage string) EntityKey {
	return EntityKey{
		Text:           NormalizeText(text),
		SourceLanguage: normalizeLanguage(sourceLanguage),
		TargetLanguage: normalizeLanguage(targetLanguage),
	}
}

// NormalizeText applies the key normalization to a piece of card text.
func NormalizeText(text string) string {
	text = norm.NFC.String(text)
	text = strings.Join(strings.Fields(text), " ")
	return folder.String(text)
}

func normalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

// ID returns the stable string form of the key, "source|target|text".
func (k EntityKey) ID() string {
	return k.SourceLanguage + keySeparator + k.TargetLanguage + keySeparator + k.Text
}

// String implements fmt.Stringer.
func (k EntityKey) String() string {
	return fmt.Sprintf("%s (%s→%s)", k.Text, k.SourceLanguage, k.TargetLanguage)
}

// Validate checks that every part of the key is present and that the
// languages cannot be confused with the separator.
func (k EntityKey) Validate() error {
	if k.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidKey)
	}
	if k.SourceLanguage == "" || k.TargetLanguage == "" {
		return fmt.Errorf("%w: source and target languages are required", ErrInvalidKey)
	}
	if strings.Contains(k.SourceLanguage, keySeparator) || strings.Contains(k.TargetLanguage, keySeparator) {
		return fmt.Errorf("%w: language codes must not contain %q", ErrInvalidKey, keySeparator)
	}
	return nil
}

// ParseKeyID is the inverse of EntityKey.ID.
func ParseKeyID(id string) (EntityKey, error) {
	parts := strings.SplitN(id, keySeparator, 3)
	if len(parts) != 3 {
		return EntityKey{}, fmt.Errorf("%w: malformed id %q", ErrInvalidKey, id)
	}
	k := EntityKey{SourceLanguage: parts[0], TargetLanguage: parts[1], Text: parts[2]}
	return k, k.Validate()
}
