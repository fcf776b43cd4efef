package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/chatdouble/chatdouble/internal/extract"
	"github.com/chatdouble/chatdouble/internal/index"
	"github.com/chatdouble/chatdouble/internal/prompt"
	"github.com/chatdouble/chatdouble/internal/store"
)

const (
	// retrievalK neighbors are pulled per query.
	retrievalK = 20
	// Resumed generations (crash recovery) tighten the retrieved set:
	// lines shorter than resumeMinTokens tokens are dropped and at most
	// resumeMaxLines are kept before composing.
	resumeMinTokens = 3
	resumeMaxLines  = 12

	turnTimeFormat = "03:04 PM"
)

var (
	// ErrEmptyCorpus means the uploaded export produced no usable lines;
	// bot creation is refused rather than creating a mute bot.
	ErrEmptyCorpus = errors.New("export contains no usable chat lines")
	// ErrReplyPending rejects a new user message while the previous one
	// for the same bot is still awaiting its reply.
	ErrReplyPending = errors.New("a reply is still being generated for this bot")
)

// Store is the document-store contract the orchestrator consumes. Bot
// names are matched case-insensitively by implementations.
type Store interface {
	GetBots(owner string) ([]store.BotSummary, error)
	GetBotCorpus(owner, botName string) (corpusText, persona string, err error)
	PutBot(owner, name, corpusText, persona string) error
	RenameBot(owner, oldName, newName string) error
	DeleteBot(owner, name string) error
	GetHistory(owner, botName string) ([]store.Turn, error)
	PutHistory(owner, botName string, turns []store.Turn) error
}

// Orchestrator drives the per-(user, bot) conversation state machine:
// accept a user message, persist it as a pending turn, retrieve +
// generate, persist the completed turn. It also owns the bot lifecycle
// around that pipeline. All state lives in the store; the orchestrator
// itself holds only computed caches.
type Orchestrator struct {
	store      Store
	generator  *ReplyGenerator
	summarizer *PersonaSummarizer
	encoder    index.Encoder // nil when the backend is not configured
	indexes    *index.Cache
	logger     *slog.Logger
}

func NewOrchestrator(st Store, gen *ReplyGenerator, sum *PersonaSummarizer, enc index.Encoder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      st,
		generator:  gen,
		summarizer: sum,
		encoder:    enc,
		indexes:    index.NewCache(),
		logger:     logger,
	}
}

// CreateBot extracts the named speaker's corpus from a raw export,
// derives a persona, and stores the bot. The store enforces the bot cap
// and case-insensitive name collisions before writing.
func (o *Orchestrator) CreateBot(ctx context.Context, owner, name, exportText string) (store.BotSummary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.BotSummary{}, fmt.Errorf("bot name is required")
	}

	lines := extract.SpeakerLines(exportText, name)
	if len(lines) == 0 {
		return store.BotSummary{}, ErrEmptyCorpus
	}

	persona := o.summarizer.Summarize(ctx, lines)
	displayName := capitalize(name)

	if err := o.store.PutBot(owner, displayName, strings.Join(lines, "\n"), persona); err != nil {
		return store.BotSummary{}, err
	}
	o.logger.Info("bot created", "owner", owner, "bot", displayName, "corpus_lines", len(lines), "has_persona", persona != "")
	return store.BotSummary{Name: displayName, Persona: persona}, nil
}

func (o *Orchestrator) Bots(owner string) ([]store.BotSummary, error) {
	return o.store.GetBots(owner)
}

func (o *Orchestrator) RenameBot(owner, oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("new bot name is required")
	}
	return o.store.RenameBot(owner, oldName, capitalize(newName))
}

func (o *Orchestrator) DeleteBot(owner, name string) error {
	return o.store.DeleteBot(owner, name)
}

func (o *Orchestrator) ClearHistory(owner, botName string) error {
	if _, _, err := o.store.GetBotCorpus(owner, botName); err != nil {
		return err
	}
	return o.store.PutHistory(owner, botName, nil)
}

// History returns the turn sequence for a bot. If the last turn is
// still pending from a crashed or interrupted session, it is completed
// first, so a reload never shows a silently stuck conversation.
func (o *Orchestrator) History(ctx context.Context, owner, botName string) ([]store.Turn, error) {
	if _, _, err := o.store.GetBotCorpus(owner, botName); err != nil {
		return nil, err
	}
	turns, err := o.store.GetHistory(owner, botName)
	if err != nil {
		return nil, err
	}
	if len(turns) > 0 && turns[len(turns)-1].Status == store.TurnPending {
		o.logger.Info("resuming pending reply", "owner", owner, "bot", botName)
		turns, err = o.completeTurn(ctx, owner, botName, turns, true, nil)
		if err != nil {
			return nil, err
		}
	}
	return turns, nil
}

// ResumePending scans all of a user's bots and completes any turn left
// awaiting its reply, making generation resumable after a restart
// without losing the user's message.
func (o *Orchestrator) ResumePending(ctx context.Context, owner string) error {
	bots, err := o.store.GetBots(owner)
	if err != nil {
		return err
	}
	for _, b := range bots {
		turns, err := o.store.GetHistory(owner, b.Name)
		if err != nil {
			return err
		}
		if len(turns) == 0 || turns[len(turns)-1].Status != store.TurnPending {
			continue
		}
		o.logger.Info("resuming pending reply", "owner", owner, "bot", b.Name)
		if _, err := o.completeTurn(ctx, owner, b.Name, turns, true, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendMessage appends a user message as a pending turn, persists it,
// then generates and persists the reply. Returns the completed turn.
// Refused with ErrReplyPending while another turn for the same bot is
// outstanding.
func (o *Orchestrator) SendMessage(ctx context.Context, owner, botName, userText string) (store.Turn, error) {
	return o.sendMessage(ctx, owner, botName, userText, nil)
}

// SendMessageStream is SendMessage with streamed generation: onChunk
// receives the running reply text after every chunk, and every chunk is
// also checkpointed to the store so a reload mid-stream sees the latest
// partial text.
func (o *Orchestrator) SendMessageStream(ctx context.Context, owner, botName, userText string, onChunk func(partial string)) (store.Turn, error) {
	return o.sendMessage(ctx, owner, botName, userText, onChunk)
}

func (o *Orchestrator) sendMessage(ctx context.Context, owner, botName, userText string, onChunk func(string)) (store.Turn, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return store.Turn{}, fmt.Errorf("message is empty")
	}
	if _, _, err := o.store.GetBotCorpus(owner, botName); err != nil {
		return store.Turn{}, err
	}

	turns, err := o.store.GetHistory(owner, botName)
	if err != nil {
		return store.Turn{}, err
	}
	if len(turns) > 0 && turns[len(turns)-1].Status == store.TurnPending {
		return store.Turn{}, ErrReplyPending
	}

	// Idle -> AwaitingReply: the user message is durable before any
	// generation work starts.
	turns = append(turns, store.Turn{
		User:      userText,
		Timestamp: time.Now().Format(turnTimeFormat),
		Status:    store.TurnPending,
	})
	if err := o.store.PutHistory(owner, botName, turns); err != nil {
		return store.Turn{}, err
	}

	turns, err = o.completeTurn(ctx, owner, botName, turns, false, onChunk)
	if err != nil {
		return store.Turn{}, err
	}
	return turns[len(turns)-1], nil
}

// completeTurn runs the AwaitingReply -> Idle transition for the last
// turn of the given history: retrieve similar corpus lines, compose the
// prompt, generate, write the reply into the pending turn, persist.
// Successful, degraded, and placeholder replies all complete the turn.
func (o *Orchestrator) completeTurn(ctx context.Context, owner, botName string, turns []store.Turn, resumed bool, onChunk func(string)) ([]store.Turn, error) {
	corpusText, persona, err := o.store.GetBotCorpus(owner, botName)
	if err != nil {
		return nil, err
	}
	pending := &turns[len(turns)-1]

	retrieved := o.retrieve(ctx, corpusText, pending.User, resumed)

	histTurns := make([]prompt.Turn, len(turns))
	for i, t := range turns {
		histTurns[i] = prompt.Turn{User: t.User, Bot: t.Bot}
	}
	promptText := prompt.Compose(persona, histTurns, retrieved, pending.User, botName)

	checkpoint := func(partial string) {
		pending.Bot = partial
		pending.Timestamp = time.Now().Format(turnTimeFormat)
		if err := o.store.PutHistory(owner, botName, turns); err != nil {
			o.logger.Warn("failed to checkpoint partial reply", "owner", owner, "bot", botName, "error", err)
		}
		if onChunk != nil {
			onChunk(partial)
		}
	}

	var reply string
	if onChunk != nil {
		reply = o.generator.GenerateStream(ctx, promptText, checkpoint)
	} else {
		reply = o.generator.Generate(ctx, promptText)
	}

	// AwaitingReply -> Idle.
	pending.Bot = reply
	pending.Status = store.TurnComplete
	pending.Timestamp = time.Now().Format(turnTimeFormat)
	if err := o.store.PutHistory(owner, botName, turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// retrieve looks up the corpus lines nearest to the query. Retrieval is
// decoration for the prompt, so every failure here degrades to "no
// examples" instead of failing the turn.
func (o *Orchestrator) retrieve(ctx context.Context, corpusText, query string, resumed bool) []string {
	if o.encoder == nil {
		return nil
	}

	lines := corpusLines(corpusText)
	ix, err := o.indexes.Get(ctx, o.encoder, corpusText, lines)
	if err != nil {
		o.logger.Warn("corpus index build failed, composing without examples", "error", err)
		return nil
	}
	matches, err := ix.Search(ctx, query, retrievalK)
	if err != nil {
		o.logger.Warn("retrieval failed, composing without examples", "error", err)
		return nil
	}

	indexed := ix.Lines()
	var retrieved []string
	for _, m := range matches {
		line := indexed[m.Line]
		if resumed {
			if len(strings.Fields(line)) < resumeMinTokens {
				continue
			}
			if len(retrieved) >= resumeMaxLines {
				break
			}
		}
		retrieved = append(retrieved, line)
	}
	return retrieved
}

func corpusLines(corpusText string) []string {
	var lines []string
	for _, line := range strings.Split(corpusText, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// capitalize upper-cases the first rune and lower-cases the rest,
// matching how bot display names are stored ("sAM" -> "Sam").
func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
