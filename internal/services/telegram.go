package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeHTML escapes the five HTML special characters so user text cannot
// inject markup into a parse_mode=HTML message.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// GetLessonInfo resolves chapter/lesson display titles from a course structure
// using keys cH<chapter> and L<lesson>. Lookups are total: a missing chapter or
// lesson yields a fallback label, never an error.
func GetLessonInfo(structure CourseStructure, chapterNumber, lessonNumber int) LessonInfo {
	chapterTitle := fmt.Sprintf("Chapter %d", chapterNumber)
	lessonTitle := fmt.Sprintf("Lesson %d", lessonNumber)
	if ch, ok := structure[fmt.Sprintf("cH%d", chapterNumber)]; ok {
		if ch.Title != "" {
			chapterTitle = ch.Title
		}
		if t, ok := ch.Lessons[fmt.Sprintf("L%d", lessonNumber)]; ok && t != "" {
			lessonTitle = t
		}
	}
	return LessonInfo{
		ChapterTitle: chapterTitle,
		LessonTitle:  lessonTitle,
		FullTitle:    chapterTitle + " - " + lessonTitle,
	}
}

// FormatAnswerMessage renders the fixed channel template. Question and answer
// text are required; all interpolated values are entity-escaped.
func FormatAnswerMessage(q *Question, answer string, info LessonInfo) (string, error) {
	if q == nil || strings.TrimSpace(q.QuestionText) == "" {
		return "", NewInvalidError("question text is missing")
	}
	if strings.TrimSpace(answer) == "" {
		return "", NewInvalidError("answer text is missing")
	}
	msg := fmt.Sprintf(`📚 <b>%s</b>
📖 %s

❓ <b>السؤال:</b>
%s

✅ <b>الإجابة:</b>
%s

⏰ %s - %s`,
		EscapeHTML(info.ChapterTitle),
		EscapeHTML(info.LessonTitle),
		EscapeHTML(q.QuestionText),
		EscapeHTML(answer),
		EscapeHTML(q.DateSubmitted),
		EscapeHTML(q.TimeSubmitted),
	)
	return msg, nil
}

// Publisher submits an answered question to the configured outbound channel.
type Publisher interface {
	Publish(ctx context.Context, botToken, chatID string, q *Question, answer string, info LessonInfo) (int64, error)
}

// ChannelClient is the full outbound-channel surface: publishing plus the
// credential check used by the course editor.
type ChannelClient interface {
	Publisher
	TestConnection(ctx context.Context, botToken, chatID string) error
}

// TelegramPublisher posts messages through the Telegram Bot API. It performs a
// single synchronous call with no retry; retrying is the caller's decision.
type TelegramPublisher struct {
	client  *http.Client
	baseURL string
}

func NewTelegramPublisher(client *http.Client) *TelegramPublisher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TelegramPublisher{client: client, baseURL: telegramAPIBase}
}

// WithBaseURL overrides the API endpoint, used by tests.
func (p *TelegramPublisher) WithBaseURL(base string) *TelegramPublisher {
	p.baseURL = strings.TrimRight(base, "/")
	return p
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (p *TelegramPublisher) send(ctx context.Context, botToken string, body sendMessageRequest) (*sendMessageResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewInvalidError(err.Error())
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewBadGatewayError("telegram request failed: " + err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewBadGatewayError("telegram response malformed: " + err.Error())
	}
	return &out, nil
}

// Publish renders the answer template and submits it, returning the channel's
// message identifier for persistence alongside the answer.
func (p *TelegramPublisher) Publish(ctx context.Context, botToken, chatID string, q *Question, answer string, info LessonInfo) (int64, error) {
	msg, err := FormatAnswerMessage(q, answer, info)
	if err != nil {
		return 0, err
	}
	out, err := p.send(ctx, botToken, sendMessageRequest{ChatID: chatID, Text: msg, ParseMode: "HTML"})
	if err != nil {
		return 0, err
	}
	if !out.OK {
		desc := out.Description
		if desc == "" {
			desc = "failed to post to telegram"
		}
		return 0, NewBadGatewayError(desc)
	}
	return out.Result.MessageID, nil
}

// TestConnection sends a plain test message to verify channel credentials.
func (p *TelegramPublisher) TestConnection(ctx context.Context, botToken, chatID string) error {
	if strings.TrimSpace(botToken) == "" || strings.TrimSpace(chatID) == "" {
		return NewInvalidError("bot token and channel id required")
	}
	out, err := p.send(ctx, botToken, sendMessageRequest{ChatID: chatID, Text: "✅ تم الاتصال بنجاح!"})
	if err != nil {
		return err
	}
	if !out.OK {
		desc := out.Description
		if desc == "" {
			desc = "connection failed"
		}
		return NewBadGatewayError(desc)
	}
	return nil
}
