package stores

import "time"

// MaxHistorySize caps the retained history regardless of organization policy.
const MaxHistorySize = 255

// reuseWindow lists the hashes a new password must not match: the current
// hash plus the newest size retired hashes. A size of zero disables the check.
func reuseWindow(current *CredentialRecord, size int) []string {
	if current == nil || size <= 0 {
		return nil
	}
	n := min(size, len(current.History))
	window := make([]string, 0, n+1)
	window = append(window, current.Hash)
	return append(window, current.History[:n]...)
}

// advance produces the record that replaces current once hash has been
// accepted. The retired hash moves to the front of history, which is then
// trimmed to size, evicting the oldest entries.
func advance(current *CredentialRecord, hash string, size int, now time.Time) *CredentialRecord {
	size = min(size, MaxHistorySize)

	next := &CredentialRecord{Hash: hash}
	if current == nil {
		next.PasswordChanged = now.UnixMilli()
		return next
	}

	if size > 0 {
		history := make([]string, 0, size)
		history = append(history, current.Hash)
		for _, h := range current.History {
			if len(history) == size {
				break
			}
			history = append(history, h)
		}
		next.History = history
	}

	next.PasswordChanged = now.UnixMilli()
	if next.PasswordChanged <= current.PasswordChanged {
		next.PasswordChanged = current.PasswordChanged + 1
	}
	return next
}
