package models

// MediaDescriptor — результат разрешения ссылки: прямой адрес файла и его метаданные.
type MediaDescriptor struct {
	DirectURL string // Прямая ссылка на файл
	Name      string // Имя файла, как его вернул сервис
	Size      int64  // Размер в байтах, 0 — неизвестен
	SourceURL string // Исходная ссылка пользователя
}

// SizeMB возвращает размер в мегабайтах.
func (m MediaDescriptor) SizeMB() float64 {
	return float64(m.Size) / BytesPerMB
}
