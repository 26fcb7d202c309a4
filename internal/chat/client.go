// Package chat — клиент Bot API чат-платформы: текстовые сообщения,
// их редактирование и потоковая отправка видео.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/services/transfer"
)

// DefaultBaseURL — адрес Bot API по умолчанию.
const DefaultBaseURL = "https://api.telegram.org"

// ErrAPI — Bot API ответил ok=false.
var ErrAPI = errors.New("chat api error")

// Client вызывает методы Bot API.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient создаёт клиент. timeout применяется к текстовым методам;
// загрузка видео ограничивается только контекстом вызова.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

func (c *Client) newRequest(ctx context.Context, method string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do выполняет запрос и разбирает конверт ответа.
func (c *Client) do(req *http.Request) (Message, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Message{}, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, err)
	}
	if !out.OK {
		return Message{}, fmt.Errorf("%w: %s", ErrAPI, out.Description)
	}
	return out.Result, nil
}

// SendText отправляет сообщение и возвращает его идентификатор.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	const op = "chat.SendText"
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	msg, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return msg.MessageID, nil
}

// EditText заменяет текст ранее отправленного сообщения. Повтор того же
// текста ошибкой не считается.
func (c *Client) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	const op = "chat.EditText"
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, "editMessageText", editMessageRequest{ChatID: chatID, MessageID: messageID, Text: text})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := c.do(req); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendVideo потоково загружает файл в чат multipart-запросом, не читая его
// в память целиком.
func (c *Client) SendVideo(ctx context.Context, chatID int64, u transfer.Upload) error {
	const op = "chat.SendVideo"
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeVideoForm(mw, chatID, u))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendVideo"), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if _, err := c.do(req); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func writeVideoForm(mw *multipart.Writer, chatID int64, u transfer.Upload) error {
	fields := [][2]string{
		{"chat_id", strconv.FormatInt(chatID, 10)},
		{"caption", u.Caption},
		{"supports_streaming", strconv.FormatBool(u.SupportsStreaming)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("video", u.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, u.Body); err != nil {
		return err
	}
	return mw.Close()
}
