package pipeline

import "testing"

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no markers", "Hello there.", "Hello there."},
		{"single span", "<think>ignored</think>OK turning on the light.", "OK turning on the light."},
		{"upper case", "<THINK>ignored</Think>OK.", "OK."},
		{"multi line", "<think>\nstep one\nstep two\n</think>\nDone.", "\nDone."},
		{"multiple spans", "A<think>x</think>B<think>y</think>C", "ABC"},
		{"unmatched open kept", "Answer <think>never closed", "Answer <think>never closed"},
		{"closed then unmatched", "<think>a</think>ok <think>tail", "ok <think>tail"},
		{"stray close kept", "done</think>", "done</think>"},
		{"empty span", "<think></think>x", "x"},
		{"non-ascii preserved", "<think>ü</think>Grüße", "Grüße"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripReasoning(tt.in); got != tt.want {
				t.Errorf("StripReasoning(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReplyText(t *testing.T) {
	const fallback = "I am ready."
	tests := []struct {
		name      string
		content   string
		reasoning string
		want      string
	}{
		{"content wins", "Hi!", "thinking", "Hi!"},
		{"reasoning used when content empty", "", "It is noon.", "It is noon."},
		{"whitespace content falls to reasoning", "  \n", "Sure.", "Sure."},
		{"both empty", "", "", fallback},
		{"only reasoning span", "<think>hmm</think>", "", fallback},
		{"reasoning stripped too", "", "<think>hmm</think> Yes.", "Yes."},
		{"trimmed", "\n  OK turning on the light.  \n", "", "OK turning on the light."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ReplyText(tt.content, tt.reasoning, fallback); got != tt.want {
				t.Errorf("ReplyText = %q, want %q", got, tt.want)
			}
		})
	}
}
