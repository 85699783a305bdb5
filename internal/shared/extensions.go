package shared

import "fmt"

const (
	maxExtensionKeys     = 32
	maxExtensionValueLen = 255
)

// Extensions is the bounded string-to-string metadata bag carried by
// documents, lines and ledger entries. Values are scalar on purpose so
// invariants stay checkable.
type Extensions map[string]string

// Validate enforces the size bounds.
func (e Extensions) Validate() error {
	if len(e) > maxExtensionKeys {
		return fmt.Errorf("extensions: more than %d keys: %w", maxExtensionKeys, ErrValidation)
	}
	for k, v := range e {
		if k == "" {
			return fmt.Errorf("extensions: empty key: %w", ErrValidation)
		}
		if len(v) > maxExtensionValueLen {
			return fmt.Errorf("extensions: value for %q exceeds %d bytes: %w", k, maxExtensionValueLen, ErrValidation)
		}
	}
	return nil
}

// Merge returns a copy of e with the entries of other applied on top.
func (e Extensions) Merge(other Extensions) Extensions {
	merged := make(Extensions, len(e)+len(other))
	for k, v := range e {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
