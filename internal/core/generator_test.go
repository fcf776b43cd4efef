package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeBackend struct {
	completeFn func(model, prompt string, opts GenOptions) (Result, error)
	streamFn   func(model, prompt string) (Stream, error)
	lastPrompt string
}

func (f *fakeBackend) Complete(ctx context.Context, model, prompt string, opts GenOptions) (Result, error) {
	f.lastPrompt = prompt
	if f.completeFn == nil {
		return Result{}, errors.New("complete not configured")
	}
	return f.completeFn(model, prompt, opts)
}

func (f *fakeBackend) CompleteStream(ctx context.Context, model, prompt string) (Stream, error) {
	f.lastPrompt = prompt
	if f.streamFn == nil {
		return nil, errors.New("stream not configured")
	}
	return f.streamFn(model, prompt)
}

func (f *fakeBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

// sliceStream yields its chunks in order, then failWith (if set) or EOF.
type sliceStream struct {
	chunks   []string
	failWith error
	pos      int
}

func (s *sliceStream) Next() (string, error) {
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.failWith != nil {
		return "", s.failWith
	}
	return "", io.EOF
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerate_PrimarySuccess(t *testing.T) {
	backend := &fakeBackend{completeFn: func(model, prompt string, opts GenOptions) (Result, error) {
		if model != PrimaryModel {
			t.Errorf("called model %q before primary", model)
		}
		return Result{Text: "  hey there  "}, nil
	}}
	g := NewReplyGenerator(backend, testLogger())

	if got := g.Generate(context.Background(), "p"); got != "hey there" {
		t.Errorf("Generate = %q", got)
	}
}

func TestGenerate_SecondaryFallback(t *testing.T) {
	var calls []string
	backend := &fakeBackend{completeFn: func(model, prompt string, opts GenOptions) (Result, error) {
		calls = append(calls, model)
		if model == PrimaryModel {
			return Result{}, errors.New("quota exceeded")
		}
		return Result{Text: "from secondary"}, nil
	}}
	g := NewReplyGenerator(backend, testLogger())

	if got := g.Generate(context.Background(), "p"); got != "from secondary" {
		t.Errorf("Generate = %q", got)
	}
	if len(calls) != 2 || calls[0] != PrimaryModel || calls[1] != SecondaryModel {
		t.Errorf("model call order = %v", calls)
	}
}

func TestGenerate_TotalFailureIsPlaceholder(t *testing.T) {
	backend := &fakeBackend{completeFn: func(model, prompt string, opts GenOptions) (Result, error) {
		return Result{}, errors.New("down")
	}}
	g := NewReplyGenerator(backend, testLogger())

	got := g.Generate(context.Background(), "p")
	if got != OfflineReply {
		t.Errorf("Generate = %q, want offline placeholder", got)
	}
	if got == "" {
		t.Error("reply must never be empty")
	}
}

func TestGenerate_EmptyTextCountsAsFailure(t *testing.T) {
	backend := &fakeBackend{completeFn: func(model, prompt string, opts GenOptions) (Result, error) {
		if model == PrimaryModel {
			return Result{Text: "   "}, nil
		}
		return Result{Text: "real reply"}, nil
	}}
	g := NewReplyGenerator(backend, testLogger())

	if got := g.Generate(context.Background(), "p"); got != "real reply" {
		t.Errorf("Generate = %q", got)
	}
}

func TestGenerate_NotConfigured(t *testing.T) {
	g := NewReplyGenerator(nil, testLogger())
	if got := g.Generate(context.Background(), "p"); got != NotConfiguredReply {
		t.Errorf("Generate = %q, want not-configured reply", got)
	}
}

func TestGenerateStream_AccumulatesAndCheckpoints(t *testing.T) {
	backend := &fakeBackend{streamFn: func(model, prompt string) (Stream, error) {
		return &sliceStream{chunks: []string{"hey", " there", "", "!"}}, nil
	}}
	g := NewReplyGenerator(backend, testLogger())

	var checkpoints []string
	got := g.GenerateStream(context.Background(), "p", func(partial string) {
		checkpoints = append(checkpoints, partial)
	})

	if got != "hey there!" {
		t.Errorf("final reply = %q", got)
	}
	want := []string{"hey", "hey there", "hey there!"}
	if len(checkpoints) != len(want) {
		t.Fatalf("checkpoints = %q, want %q", checkpoints, want)
	}
	for i := range want {
		if checkpoints[i] != want[i] {
			t.Errorf("checkpoint %d = %q, want %q", i, checkpoints[i], want[i])
		}
	}
}

func TestGenerateStream_OpenFailureFallsBackToSingleShot(t *testing.T) {
	backend := &fakeBackend{
		streamFn: func(model, prompt string) (Stream, error) {
			return nil, errors.New("cannot open")
		},
		completeFn: func(model, prompt string, opts GenOptions) (Result, error) {
			return Result{Text: "single shot"}, nil
		},
	}
	g := NewReplyGenerator(backend, testLogger())

	if got := g.GenerateStream(context.Background(), "p", nil); got != "single shot" {
		t.Errorf("GenerateStream = %q", got)
	}
}

func TestGenerateStream_MidFlightFailureKeepsAccumulated(t *testing.T) {
	backend := &fakeBackend{streamFn: func(model, prompt string) (Stream, error) {
		return &sliceStream{chunks: []string{"partial "}, failWith: errors.New("reset")}, nil
	}}
	g := NewReplyGenerator(backend, testLogger())

	if got := g.GenerateStream(context.Background(), "p", nil); got != "partial" {
		t.Errorf("GenerateStream = %q, want accumulated text", got)
	}
}

func TestGenerateStream_MidFlightFailureWithNothingIsPlaceholder(t *testing.T) {
	backend := &fakeBackend{streamFn: func(model, prompt string) (Stream, error) {
		return &sliceStream{failWith: errors.New("reset")}, nil
	}}
	g := NewReplyGenerator(backend, testLogger())

	if got := g.GenerateStream(context.Background(), "p", nil); got != OfflineReply {
		t.Errorf("GenerateStream = %q, want offline placeholder", got)
	}
}

func TestGenerateStream_NotConfigured(t *testing.T) {
	g := NewReplyGenerator(nil, testLogger())
	if got := g.GenerateStream(context.Background(), "p", nil); got != NotConfiguredReply {
		t.Errorf("GenerateStream = %q", got)
	}
}

func TestOfflineAndNotConfiguredAreDistinct(t *testing.T) {
	if OfflineReply == NotConfiguredReply {
		t.Error("degraded replies must be distinguishable")
	}
	if !strings.Contains(NotConfiguredReply, "GEMINI_API_KEY") {
		t.Error("not-configured reply should name the missing setting")
	}
}
