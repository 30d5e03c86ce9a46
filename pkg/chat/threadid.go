package chat

import (
	"fmt"
	"strings"
)

// Thread identifiers are strings of the form "<adapterName>:<parts...>".
// Each adapter owns its own encoding and must guarantee that
// DecodeThreadID(EncodeThreadID(parts)) == parts. The dispatcher never
// parses thread ids; it only uses them as opaque dedup/lock/subscription
// keys. The helpers here exist so adapters share one validation shape.

// ThreadIDError reports a malformed thread identifier.
type ThreadIDError struct {
	ThreadID string
	Reason   string
}

func (e *ThreadIDError) Error() string {
	return fmt.Sprintf("chat: invalid thread id %q: %s", e.ThreadID, e.Reason)
}

// EncodeThreadID joins an adapter name and its platform-specific parts.
func EncodeThreadID(adapterName string, parts ...string) string {
	return adapterName + ":" + strings.Join(parts, ":")
}

// ParseThreadID splits a thread id, validating the adapter prefix and the
// exact number of platform-specific parts. The trailing part may contain
// further colons only when wantParts is 1.
func ParseThreadID(threadID, adapterName string, wantParts int) ([]string, error) {
	prefix := adapterName + ":"
	if !strings.HasPrefix(threadID, prefix) {
		return nil, &ThreadIDError{ThreadID: threadID, Reason: "wrong adapter prefix, want " + adapterName}
	}
	rest := strings.TrimPrefix(threadID, prefix)
	var parts []string
	if wantParts == 1 {
		parts = []string{rest}
	} else {
		parts = strings.SplitN(rest, ":", wantParts)
	}
	if len(parts) < wantParts {
		return nil, &ThreadIDError{ThreadID: threadID, Reason: fmt.Sprintf("want %d segments, got %d", wantParts, len(parts))}
	}
	for i, p := range parts {
		if p == "" {
			return nil, &ThreadIDError{ThreadID: threadID, Reason: fmt.Sprintf("empty segment %d", i)}
		}
	}
	return parts, nil
}

// AdapterNameFromThreadID extracts the adapter prefix without validating
// the remainder.
func AdapterNameFromThreadID(threadID string) (string, error) {
	name, rest, ok := strings.Cut(threadID, ":")
	if !ok || name == "" || rest == "" {
		return "", &ThreadIDError{ThreadID: threadID, Reason: "want <adapter>:<parts>"}
	}
	return name, nil
}
