package memory

import (
	"context"
	"fmt"
	"maps"
)

// Settings возвращает копию сохранённых настроек.
func (s *Storage) Settings(ctx context.Context) (map[string]string, error) {
	const op = "memory.Settings"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.settings), nil
}

// SetSetting сохраняет значение настройки.
func (s *Storage) SetSetting(ctx context.Context, key, value string) error {
	const op = "memory.SetSetting"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}
