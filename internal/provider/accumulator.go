package provider

import (
	"encoding/json"
	"strings"
)

// toolCallState accumulates one tool-use content block's id/name/partial
// JSON input across ContentBlockDelta events, keyed by block index.
type toolCallState struct {
	id       string
	name     string
	fallback json.RawMessage
	partial  strings.Builder
}

type toolCall struct {
	id    string
	name  string
	input json.RawMessage
}

// thinkingState accumulates one thinking content block's text + signature.
type thinkingState struct {
	text      strings.Builder
	signature string
}

type thinkingResult struct {
	text      string
	signature string
}

// blockAccumulator tracks per-index content-block state across a single
// streamed message, mirroring the teacher's toolCallAccumulator but
// generalized to also track thinking blocks (needed since both share the
// same content_block_start/delta/stop index space).
type blockAccumulator struct {
	tools    map[int64]*toolCallState
	thinking map[int64]*thinkingState
}

func newBlockAccumulator() *blockAccumulator {
	return &blockAccumulator{
		tools:    make(map[int64]*toolCallState),
		thinking: make(map[int64]*thinkingState),
	}
}

func (a *blockAccumulator) startTool(index int64, id, name string, initial json.RawMessage) {
	a.tools[index] = &toolCallState{id: id, name: name, fallback: initial}
}

func (a *blockAccumulator) appendToolJSON(index int64, partial string) {
	st, ok := a.tools[index]
	if !ok {
		return
	}
	st.partial.WriteString(partial)
}

func (a *blockAccumulator) toolID(index int64) string {
	if st, ok := a.tools[index]; ok {
		return st.id
	}
	return ""
}

func (a *blockAccumulator) toolJSONSoFar(index int64) string {
	if st, ok := a.tools[index]; ok {
		return st.partial.String()
	}
	return ""
}

func (a *blockAccumulator) finishTool(index int64) (toolCall, bool) {
	st, ok := a.tools[index]
	if !ok {
		return toolCall{}, false
	}
	delete(a.tools, index)

	input := st.fallback
	if st.partial.Len() > 0 {
		input = json.RawMessage(st.partial.String())
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return toolCall{id: st.id, name: st.name, input: input}, true
}

func (a *blockAccumulator) appendThinking(index int64, text string) {
	if text == "" {
		return
	}
	st, ok := a.thinking[index]
	if !ok {
		st = &thinkingState{}
		a.thinking[index] = st
	}
	st.text.WriteString(text)
}

func (a *blockAccumulator) setSignature(index int64, sig string) {
	if sig == "" {
		return
	}
	st, ok := a.thinking[index]
	if !ok {
		st = &thinkingState{}
		a.thinking[index] = st
	}
	st.signature = sig
}

func (a *blockAccumulator) finishThinking(index int64) (thinkingResult, bool) {
	st, ok := a.thinking[index]
	if !ok {
		return thinkingResult{}, false
	}
	delete(a.thinking, index)
	return thinkingResult{text: st.text.String(), signature: st.signature}, true
}
