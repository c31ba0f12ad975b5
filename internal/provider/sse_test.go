package provider

import "testing"

func TestSSEDecoderSplitCodepoint(t *testing.T) {
	full := "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello 👋 world\"}}\n\n"
	raw := []byte(full)

	// 👋 is 4 bytes (U+1F44B); find it and split the chunk boundary through
	// its middle (2 + 2 bytes), per §8 scenario 5.
	idx := indexOfWave(raw)
	if idx < 0 {
		t.Fatalf("test fixture missing wave emoji")
	}

	d := NewSSEDecoder()
	var frames []Frame
	frames = append(frames, d.Feed(raw[:idx+2])...)
	frames = append(frames, d.Feed(raw[idx+2:])...)

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	want := `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello 👋 world"}}`
	if frames[0].Data != want {
		t.Fatalf("data=%q, want %q", frames[0].Data, want)
	}
}

func TestSSEDecoderCRLFFraming(t *testing.T) {
	raw := []byte("event: ping\r\ndata: {}\r\n\r\n")
	d := NewSSEDecoder()
	frames := d.Feed(raw)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Event != "ping" {
		t.Fatalf("event=%q, want ping", frames[0].Event)
	}
}

func TestSSEDecoderByteAtATime(t *testing.T) {
	raw := []byte("event: x\ndata: abc\ndata: def\n\n")
	d := NewSSEDecoder()
	var frames []Frame
	for i := range raw {
		frames = append(frames, d.Feed(raw[i:i+1])...)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Data != "abc\ndef" {
		t.Fatalf("data=%q, want %q", frames[0].Data, "abc\ndef")
	}
}

func indexOfWave(b []byte) int {
	wave := []byte("👋")
	for i := 0; i+len(wave) <= len(b); i++ {
		match := true
		for j := range wave {
			if b[i+j] != wave[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
