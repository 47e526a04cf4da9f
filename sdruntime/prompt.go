package sdruntime

import (
	"fmt"
	"strings"
)

// ValidatePrompt rejects prompts the native runtime cannot take.
// An empty prompt is allowed; the model then samples unconditionally.
func ValidatePrompt(prompt string) error {
	// C strings end at the first NUL
	if strings.ContainsRune(prompt, '\x00') {
		return fmt.Errorf("%w: prompt contains null bytes", ErrInvalidPrompt)
	}

	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d",
			ErrInvalidPrompt, len(prompt), MaxPromptLength)
	}

	return nil
}

// SanitizePrompt trims surrounding whitespace.
func SanitizePrompt(prompt string) string {
	return strings.TrimSpace(prompt)
}
