package core

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

const (
	// OfflineReply stands in for a generated reply when both models
	// fail. It is a normal reply string, never an error: generation
	// failures must not crash the turn-completion flow.
	OfflineReply = "⚠️ Offline (try again after some time)"

	// NotConfiguredReply is returned when no backend credentials exist.
	// Distinct from OfflineReply so a misconfiguration reads as one.
	NotConfiguredReply = "⚠️ Gemini API key not set. Add GEMINI_API_KEY to the environment to enable replies."
)

// ReplyGenerator turns a composed prompt into reply text with a layered
// fallback: primary model, then secondary model, then OfflineReply. A
// nil backend means the service runs unconfigured and every call yields
// NotConfiguredReply without touching the network.
type ReplyGenerator struct {
	backend Backend
	logger  *slog.Logger
}

func NewReplyGenerator(backend Backend, logger *slog.Logger) *ReplyGenerator {
	return &ReplyGenerator{backend: backend, logger: logger}
}

// Generate runs the single-shot path. Always returns a non-empty reply
// string; backend errors are absorbed here and degrade the reply.
func (g *ReplyGenerator) Generate(ctx context.Context, promptText string) string {
	if g.backend == nil {
		return NotConfiguredReply
	}

	res, err := g.backend.Complete(ctx, PrimaryModel, promptText, GenOptions{})
	if err == nil && strings.TrimSpace(res.Text) != "" {
		return strings.TrimSpace(res.Text)
	}
	g.logger.Warn("primary model failed, retrying on secondary",
		"primary", PrimaryModel, "secondary", SecondaryModel, "error", err)

	res, err = g.backend.Complete(ctx, SecondaryModel, promptText, GenOptions{})
	if err == nil && strings.TrimSpace(res.Text) != "" {
		return strings.TrimSpace(res.Text)
	}
	g.logger.Error("secondary model failed, degrading to offline reply", "error", err)
	return OfflineReply
}

// GenerateStream runs the streaming path. checkpoint is called with the
// running concatenation after every received chunk so the caller can
// persist partial progress; the return value is the final reply text.
//
// If the stream cannot be opened the call falls back to Generate. If it
// fails mid-flight, whatever was accumulated becomes the reply, or
// OfflineReply when nothing arrived at all.
func (g *ReplyGenerator) GenerateStream(ctx context.Context, promptText string, checkpoint func(partial string)) string {
	if g.backend == nil {
		return NotConfiguredReply
	}

	stream, err := g.backend.CompleteStream(ctx, PrimaryModel, promptText)
	if err != nil {
		g.logger.Warn("stream open failed, falling back to single-shot", "error", err)
		return g.Generate(ctx, promptText)
	}

	var accumulated strings.Builder
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			g.logger.Warn("stream failed mid-flight, finalizing with accumulated text", "error", err)
			break
		}
		if chunk == "" {
			continue
		}
		accumulated.WriteString(chunk)
		if checkpoint != nil {
			checkpoint(accumulated.String())
		}
	}

	reply := strings.TrimSpace(accumulated.String())
	if reply == "" {
		return OfflineReply
	}
	return reply
}
