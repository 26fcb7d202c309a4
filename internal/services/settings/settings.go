// Package settings — настройки бота, которые администратор меняет во время работы.
// Значения хранятся построчно и при каждом чтении собираются поверх значений
// по умолчанию в models.BotSettings, поэтому запись видна сразу.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/models"
)

// Store — хранилище строк настроек.
type Store interface {
	Settings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Entry — одна настройка в текущем значении.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Service читает и изменяет настройки бота.
type Service struct {
	store    Store
	validate *validator.Validate
	log      *slog.Logger
}

// New создаёт Service.
func New(store Store, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		validate: validator.New(),
		log:      log,
	}
}

// Get возвращает действующие настройки. Некорректные сохранённые значения
// пропускаются с предупреждением, действует значение по умолчанию.
func (s *Service) Get(ctx context.Context) (models.BotSettings, error) {
	const op = "settings.Get"
	raw, err := s.store.Settings(ctx)
	if err != nil {
		return models.BotSettings{}, fmt.Errorf("%s: %w", op, err)
	}

	cfg := models.DefaultBotSettings()
	for key, value := range raw {
		if err := assign(&cfg, key, value); err != nil {
			s.log.Warn("ignoring stored setting", sl.Op(op), slog.String("key", key), sl.Err(err))
		}
	}
	return cfg, nil
}

// Set проверяет и сохраняет одну настройку.
func (s *Service) Set(ctx context.Context, key, value string) error {
	const op = "settings.Set"
	cfg, err := s.Get(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := assign(&cfg, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%s: %w: %s", op, models.ErrInvalidSetting, err.Error())
	}
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("setting updated", slog.String("key", key))
	return nil
}

// List возвращает все настройки с действующими значениями, по ключу.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	const op = "settings.List"
	cfg, err := s.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	v := reflect.ValueOf(cfg)
	t := v.Type()
	entries := make([]Entry, 0, t.NumField())
	for i := range t.NumField() {
		key := t.Field(i).Tag.Get("setting")
		if key == "" {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: fmt.Sprint(v.Field(i).Interface())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Keys возвращает имена всех настроек.
func Keys() []string {
	t := reflect.TypeOf(models.BotSettings{})
	keys := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		if key := t.Field(i).Tag.Get("setting"); key != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// assign записывает строковое значение в поле с тегом setting:"key".
func assign(cfg *models.BotSettings, key, value string) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := range t.NumField() {
		if t.Field(i).Tag.Get("setting") != key {
			continue
		}
		field := v.Field(i)
		switch field.Kind() {
		case reflect.String:
			field.SetString(value)
		case reflect.Int:
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("%w: %s must be an integer", models.ErrInvalidSetting, key)
			}
			field.SetInt(int64(n))
		default:
			return fmt.Errorf("%w: unsupported type for %s", models.ErrInvalidSetting, key)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", models.ErrUnknownSetting, key)
}

// Render подставляет значения вместо {name} в шаблон сообщения.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
