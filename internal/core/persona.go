package core

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// personaSampleLines bounds the corpus sample sent for
	// summarization; the first lines are enough persona signal.
	personaSampleLines = 40
	// personaMaxChars bounds what gets stored.
	personaMaxChars = 240

	personaPromptHeader = "Take these example messages from a single person and write a 1-2 sentence persona description capturing their tone, slang, and typical phrases.\n\nExamples:\n"
	personaPromptFooter = "\n\nReturn only the short persona description."
)

// PersonaSummarizer derives a short personality description from a
// speaker's lines. Strictly best-effort: persona is cosmetic, so every
// failure path yields an empty string and no error ever reaches the
// caller.
type PersonaSummarizer struct {
	backend Backend
	logger  *slog.Logger
}

func NewPersonaSummarizer(backend Backend, logger *slog.Logger) *PersonaSummarizer {
	return &PersonaSummarizer{backend: backend, logger: logger}
}

// Summarize asks the backend for a low-temperature, length-capped
// description of the sample's tone. The result is truncated to its
// first line and then to personaMaxChars.
func (p *PersonaSummarizer) Summarize(ctx context.Context, sampleLines []string) string {
	if len(sampleLines) == 0 || p.backend == nil {
		return ""
	}
	if len(sampleLines) > personaSampleLines {
		sampleLines = sampleLines[:personaSampleLines]
	}

	temp := float32(0.2)
	maxTokens := int32(120)
	promptText := personaPromptHeader + strings.Join(sampleLines, "\n") + personaPromptFooter

	res, err := p.backend.Complete(ctx, PrimaryModel, promptText, GenOptions{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	})
	if err != nil {
		p.logger.Warn("persona summarization failed, continuing without one", "error", err)
		return ""
	}

	persona := strings.TrimSpace(res.Text)
	if i := strings.IndexByte(persona, '\n'); i >= 0 {
		persona = persona[:i]
	}
	// Cap counts characters, not bytes: the model replies in whatever
	// script the corpus uses.
	if r := []rune(persona); len(r) > personaMaxChars {
		persona = string(r[:personaMaxChars])
	}
	return strings.TrimSpace(persona)
}
