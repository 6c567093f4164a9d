package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/KakeruBot/internal/models"
	"github.com/openai/openai-go"
)

// DefaultHistoryWindow is the number of log rows replayed as prior turns.
const DefaultHistoryWindow = 10

// ErrEmptyReply is set on Reply.Err when the completion came back blank.
var ErrEmptyReply = errors.New("completion returned empty reply")

// Completer is the chat-completion dependency of ReplyGenerator.
type Completer interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Reply is the outcome of one generation. Text is always safe to send; when
// Fallback is true it is FallbackReply and Err carries the cause.
type Reply struct {
	Text     string
	Fallback bool
	Err      error
}

// Replier generates a reply for a fully onboarded user.
type Replier interface {
	Generate(ctx context.Context, userID, message string, profile *models.Profile, history []models.LogEntry) Reply
}

const basePersona = "あなたは『カケル』という男性向け恋愛相談AIです。\n" +
	"トーンは丁寧で優しく、親しみやすい話し方にしてください。\n" +
	"相手の気持ちをまず受け止め、共感を伝えてから前向きなアドバイスを添えます。\n" +
	"一人称は使わず自然な敬語でOKです。\n"

const freeGuidance = "返信は2〜3文でまとめ、アドバイスは1つだけにしてください。\n" +
	"例：『それはつらかったですよね。でも大丈夫、少しずつでいいですよ。』"

const premiumGuidance = "プレミアム会員への返信です。4〜6文で、相手の状況に合わせた具体的なアドバイスを2〜3個、" +
	"次に取れる小さな行動と一緒に伝えてください。\n" +
	"過去の会話の流れも踏まえて、寄り添う言葉で締めくくってください。"

// ReplyGenerator builds the prompt from the profile and history and calls the
// completion API, substituting FallbackReply on any failure.
type ReplyGenerator struct {
	client Completer
}

// NewReplyGenerator creates a ReplyGenerator around a completion client.
func NewReplyGenerator(client Completer) *ReplyGenerator {
	return &ReplyGenerator{client: client}
}

// Generate never returns an error; failures are reported through Reply.
func (g *ReplyGenerator) Generate(ctx context.Context, userID, message string, profile *models.Profile, history []models.LogEntry) Reply {
	messages := buildMessages(profile, history, message)
	slog.Debug("ReplyGenerator.Generate: calling completion", "userID", userID, "premium", profile.IsPremium(), "messages", len(messages))

	text, err := g.client.GenerateWithMessages(ctx, messages)
	if err == nil && text == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		slog.Warn("ReplyGenerator.Generate: using fallback reply", "userID", userID, "error", err)
		return Reply{Text: FallbackReply, Fallback: true, Err: fmt.Errorf("generate reply for %s: %w", userID, err)}
	}
	slog.Debug("ReplyGenerator.Generate succeeded", "userID", userID, "length", len([]rune(text)))
	return Reply{Text: text}
}

// systemPrompt renders the persona, the profile summary and the plan guidance.
func systemPrompt(profile *models.Profile) string {
	var gender, status, feeling string
	if profile != nil {
		gender, status, feeling = string(profile.Gender), string(profile.RelationshipStatus), profile.Feeling
	}
	guidance := freeGuidance
	if profile.IsPremium() {
		guidance = premiumGuidance
	}
	return fmt.Sprintf("%s\n相談者の情報：\n- 性別: %s\n- 恋愛状況: %s\n- 今の気持ち: %s\n\n%s",
		basePersona, orUnknown(gender), orUnknown(status), orUnknown(feeling), guidance)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// buildMessages assembles system prompt, prior turns oldest-first and the new
// message. history arrives newest-first from the store.
func buildMessages(profile *models.Profile, history []models.LogEntry, message string) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt(profile))}
	for i := len(history) - 1; i >= 0; i-- {
		switch history[i].Type {
		case models.LogTypeUser:
			messages = append(messages, openai.UserMessage(history[i].Message))
		case models.LogTypeAI:
			messages = append(messages, openai.AssistantMessage(history[i].Message))
		}
	}
	return append(messages, openai.UserMessage(message))
}
