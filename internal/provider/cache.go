package provider

import "github.com/sacenox/jarvis-core/internal/event"

// CacheBreakpoints locates the (at most two) positions in a request where a
// prompt-caching breakpoint belongs, per §4.2: the final system block, and
// the last content block of the last user message. A request never carries
// more than 4 breakpoints total across system + messages; this adapter
// generalization always places exactly these 2 when enabled.
type CacheBreakpoints struct {
	System         bool
	LastUserMsg    int // index into messages, -1 if no user message exists
	LastUserPart   int // index into that message's Parts, -1 if none
}

// LocateCacheBreakpoints computes breakpoint positions for a message list.
// Callers mark the system block unconditionally (when a system prompt is
// present) and mark the located (message, part) pair; everything else is
// left uncached.
func LocateCacheBreakpoints(messages []event.Message, hasSystem bool) CacheBreakpoints {
	bp := CacheBreakpoints{System: hasSystem, LastUserMsg: -1, LastUserPart: -1}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == event.RoleUser && len(messages[i].Parts) > 0 {
			bp.LastUserMsg = i
			bp.LastUserPart = len(messages[i].Parts) - 1
			break
		}
	}
	return bp
}
