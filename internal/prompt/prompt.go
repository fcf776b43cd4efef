// Package prompt assembles the bounded generation prompt from persona,
// recent conversation, and retrieved corpus lines.
//
// Every variable block carries a hard character cap, so the final prompt
// size is deterministic no matter how large the corpus or the chat
// history grows.
package prompt

import "strings"

const (
	// maxHistoryChars caps the recent-conversation block. The tail is
	// kept: the most recent context wins over older turns.
	maxHistoryChars = 4000
	// maxRetrievedChars caps the retrieved-examples block. The head is
	// kept: retrieval returns nearest-first, so earlier lines are the
	// most relevant.
	maxRetrievedChars = 3000
)

// Turn is one user/bot exchange as the composer needs it. Empty fields
// are omitted from the serialized history.
type Turn struct {
	User string
	Bot  string
}

// instructionBlock pins the model to the persona-impersonation register.
// The wording is fixed; it is the contract that keeps replies free of
// placeholders, invented names, markdown, and assistant tone.
const instructionBlock = `You are a real human being who has chatted with this user before.

RULES:
1) The 'Recent conversation' below is absolute truth. Do NOT contradict any facts in it.
2) Determine your own real name from the examples (the text before ":" in the examples). The display label is NOT your real name unless the examples say so.
3) If the persona above is empty, infer your personality from the examples and stick to it.
4) If you don't know a fact, ask. Don't assume.
STRICT RULES:
- NEVER use placeholders like [User], [User's Name], {user}, <name>, or anything inside {}, [], <>.
- NEVER guess names. ONLY use names that actually exist inside the real chat data. If you do NOT know a name from the real examples, say "I don't know, you never told me."
- NEVER use markdown formatting like **bold**, __underline__, *, ~.
- NEVER use more emojis than the examples do. Keep the same frequency as the chat data, natural and not exaggerated.
- NEVER talk like an assistant or narrator. Just speak casually like in the chat data.`

// Compose builds the full prompt. Pure: same inputs, same output.
//
// Layout, top to bottom: optional persona block, fixed instruction
// block, capped recent-conversation block, capped retrieved-examples
// block, then the final cue that hands the turn to the bot speaker.
func Compose(persona string, recentTurns []Turn, retrievedLines []string, userText, speakerLabel string) string {
	var b strings.Builder

	if persona != "" {
		b.WriteString("Persona: ")
		b.WriteString(persona)
		b.WriteString("\n\n")
	}

	b.WriteString(instructionBlock)
	b.WriteString("\n\n--- Recent conversation ---\n")
	b.WriteString(historyBlock(recentTurns, speakerLabel))
	b.WriteString("\n\n--- Examples from real exported chat ---\n")
	b.WriteString(retrievedBlock(retrievedLines))
	b.WriteString("\n\nContinue the conversation naturally, same tone and slang.\n\n")
	b.WriteString("User: ")
	b.WriteString(userText)
	b.WriteString("\n")
	b.WriteString(speakerLabel)
	b.WriteString(":")

	return b.String()
}

func historyBlock(turns []Turn, speakerLabel string) string {
	var lines []string
	for _, t := range turns {
		if t.User != "" {
			lines = append(lines, "User: "+t.User)
		}
		if t.Bot != "" {
			lines = append(lines, speakerLabel+": "+t.Bot)
		}
	}
	return tailRunes(strings.Join(lines, "\n"), maxHistoryChars)
}

func retrievedBlock(lines []string) string {
	return headRunes(strings.Join(lines, "\n"), maxRetrievedChars)
}

// The caps count characters, not bytes, so a cut never splits a
// multibyte rune. Chat text is full of emoji and non-Latin script.

func headRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func tailRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
