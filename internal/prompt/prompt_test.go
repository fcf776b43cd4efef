package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCompose_PersonaBlock(t *testing.T) {
	withPersona := Compose("dry humor, short replies", nil, nil, "hey", "Sam")
	if !strings.HasPrefix(withPersona, "Persona: dry humor, short replies\n\n") {
		t.Errorf("persona block missing or misplaced:\n%s", withPersona[:80])
	}

	without := Compose("", nil, nil, "hey", "Sam")
	if strings.Contains(without, "Persona:") {
		t.Error("empty persona still produced a Persona: line")
	}
}

func TestCompose_FinalCue(t *testing.T) {
	p := Compose("", nil, nil, "what's up", "Sam")
	if !strings.HasSuffix(p, "User: what's up\nSam:") {
		t.Errorf("prompt does not end with the speaker cue:\n...%s", p[len(p)-60:])
	}
}

func TestCompose_HistorySerialization(t *testing.T) {
	turns := []Turn{
		{User: "hi", Bot: "yo"},
		{User: "free tonight?", Bot: ""}, // pending turn: bot line omitted
	}
	p := Compose("", turns, nil, "hello?", "Sam")
	if !strings.Contains(p, "User: hi\nSam: yo\nUser: free tonight?") {
		t.Errorf("history block wrong:\n%s", p)
	}
	if strings.Contains(p, "Sam: \n") {
		t.Error("empty bot text serialized as a history line")
	}
}

func TestCompose_HistoryCapKeepsTail(t *testing.T) {
	old := strings.Repeat("x", 3000)
	recent := "the newest message"
	turns := []Turn{{User: old}, {User: old}, {User: recent}}

	p := Compose("", turns, nil, "q", "Sam")

	start := strings.Index(p, "--- Recent conversation ---\n")
	end := strings.Index(p, "\n\n--- Examples")
	block := p[start+len("--- Recent conversation ---\n") : end]

	if len(block) > 4000 {
		t.Errorf("history block is %d chars, cap is 4000", len(block))
	}
	if !strings.Contains(block, recent) {
		t.Error("cap dropped the most recent turn instead of the oldest")
	}
}

func TestCompose_RetrievedCapKeepsHead(t *testing.T) {
	first := "most relevant retrieved line"
	var lines []string
	lines = append(lines, first)
	for i := 0; i < 200; i++ {
		lines = append(lines, strings.Repeat("y", 40))
	}

	p := Compose("", nil, lines, "q", "Sam")

	start := strings.Index(p, "--- Examples from real exported chat ---\n")
	end := strings.Index(p, "\n\nContinue the conversation")
	block := p[start+len("--- Examples from real exported chat ---\n") : end]

	if len(block) > 3000 {
		t.Errorf("retrieved block is %d chars, cap is 3000", len(block))
	}
	if !strings.HasPrefix(block, first) {
		t.Error("cap dropped the nearest retrieved line instead of the farthest")
	}
}

func TestCompose_HistoryCapMultibyte(t *testing.T) {
	turns := []Turn{{User: strings.Repeat("一", 1500)}}

	p := Compose("", turns, nil, "q", "Sam")

	start := strings.Index(p, "--- Recent conversation ---\n")
	end := strings.Index(p, "\n\n--- Examples")
	block := p[start+len("--- Recent conversation ---\n") : end]

	if !utf8.ValidString(block) {
		t.Fatalf("history cap split a rune, block starts %q", block[:12])
	}
	if got := utf8.RuneCountInString(block); got > 4000 {
		t.Errorf("history block is %d chars, cap is 4000", got)
	}
}

func TestCompose_RetrievedCapMultibyte(t *testing.T) {
	var lines []string
	for i := 0; i < 120; i++ {
		lines = append(lines, strings.Repeat("😂", 30))
	}

	p := Compose("", nil, lines, "q", "Sam")

	start := strings.Index(p, "--- Examples from real exported chat ---\n")
	end := strings.Index(p, "\n\nContinue the conversation")
	block := p[start+len("--- Examples from real exported chat ---\n") : end]

	if !utf8.ValidString(block) {
		t.Fatalf("retrieved cap split a rune, block ends %q", block[len(block)-12:])
	}
	if got := utf8.RuneCountInString(block); got > 3000 {
		t.Errorf("retrieved block is %d chars, cap is 3000", got)
	}
}

func TestCompose_Deterministic(t *testing.T) {
	turns := []Turn{{User: "a", Bot: "b"}}
	lines := []string{"one line", "two line"}
	if Compose("p", turns, lines, "q", "Sam") != Compose("p", turns, lines, "q", "Sam") {
		t.Error("Compose is not deterministic")
	}
}
