package transfer

import (
	"strings"
	"unicode"
)

// maxNameBytes ограничивает длину имени файла на диске.
const maxNameBytes = 200

// SanitizeName оставляет в имени только буквы, цифры, пробел, точку,
// подчёркивание и дефис. Пустой результат и имена из одних точек
// заменяются на fallback.
func SanitizeName(name, fallback string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '.' || r == '_' || r == '-' {
			if b.Len()+len(string(r)) > maxNameBytes {
				break
			}
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if strings.Trim(out, ".") == "" {
		return fallback
	}
	return out
}
