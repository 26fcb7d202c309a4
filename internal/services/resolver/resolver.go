// Package resolver превращает ссылку пользователя в прямую ссылку на файл
// через внешний HTTP-сервис разрешения.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/models"
)

// DefaultTimeout — предел ожидания ответа сервиса разрешения.
const DefaultTimeout = 30 * time.Second

// defaultName используется, когда сервис не вернул имя файла.
const defaultName = "video.mp4"

// maxBody — предел размера ответа сервиса.
const maxBody = 1 << 20

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+|www\.[^\s<>"]+`)

// Config — параметры Resolver.
type Config struct {
	Endpoint string
	Domains  []string
	Timeout  time.Duration
}

// Resolver обращается к сервису разрешения ссылок.
type Resolver struct {
	endpoint   string
	domains    []string
	timeout    time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// New создаёт Resolver. Нулевой Timeout заменяется на DefaultTimeout.
func New(cfg Config, httpClient *http.Client, log *slog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	domains := make([]string, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &Resolver{
		endpoint:   cfg.Endpoint,
		domains:    domains,
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		log:        log,
	}
}

// ExtractLink находит в тексте первую ссылку с поддерживаемого домена.
func (r *Resolver) ExtractLink(text string) (string, bool) {
	for _, raw := range urlPattern.FindAllString(text, -1) {
		if r.Accepts(raw) {
			return raw, true
		}
	}
	return "", false
}

// Accepts сообщает, ведёт ли ссылка на поддерживаемый домен или его поддомен.
func (r *Resolver) Accepts(raw string) bool {
	if strings.HasPrefix(strings.ToLower(raw), "www.") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range r.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// response — ответ сервиса разрешения.
type response struct {
	URL  string    `json:"url"`
	Name string    `json:"name"`
	Size flexInt64 `json:"size"`
}

// flexInt64 принимает размер числом или строкой с числом. Отрицательный
// размер считается неизвестным.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	switch {
	case n >= math.MaxInt64:
		// Размер за пределами int64 заведомо больше любого лимита.
		*f = math.MaxInt64
	case n > 0:
		*f = flexInt64(n)
	default:
		*f = 0
	}
	return nil
}

// Resolve проверяет ссылку и запрашивает у сервиса прямой адрес файла.
// Ошибки: models.ErrInvalidLink до любого сетевого запроса,
// models.ErrResolutionTimeout по истечении таймаута, models.ErrResolutionFailed
// при неуспешном статусе или ответе без поля url.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (models.MediaDescriptor, error) {
	const op = "resolver.Resolve"
	if !r.Accepts(rawURL) {
		return models.MediaDescriptor{}, fmt.Errorf("%s: %w", op, models.ErrInvalidLink)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	endpoint, err := url.Parse(r.endpoint)
	if err != nil {
		return models.MediaDescriptor{}, fmt.Errorf("%s: %w: bad endpoint: %s", op, models.ErrResolutionFailed, err.Error())
	}
	q := endpoint.Query()
	q.Set("url", rawURL)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return models.MediaDescriptor{}, fmt.Errorf("%s: %w: %s", op, models.ErrResolutionFailed, err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return models.MediaDescriptor{}, r.classify(ctx, op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return models.MediaDescriptor{}, fmt.Errorf("%s: %w: unexpected status %d", op, models.ErrResolutionFailed, resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return models.MediaDescriptor{}, r.classify(ctx, op, err)
	}
	if strings.TrimSpace(body.URL) == "" {
		return models.MediaDescriptor{}, fmt.Errorf("%s: %w: response has no url", op, models.ErrResolutionFailed)
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = defaultName
	}
	size := int64(body.Size)
	r.log.Debug("link resolved", slog.String("name", name), slog.Int64("size", size))
	return models.MediaDescriptor{
		DirectURL: body.URL,
		Name:      name,
		Size:      size,
		SourceURL: rawURL,
	}, nil
}

// classify отделяет таймаут от прочих ошибок. Отмена внешнего контекста
// возвращается как есть.
func (r *Resolver) classify(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", op, parent.Err())
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w", op, models.ErrResolutionTimeout)
	}
	return fmt.Errorf("%s: %w: %s", op, models.ErrResolutionFailed, err.Error())
}
