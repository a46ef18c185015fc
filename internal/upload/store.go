// Package upload сохраняет изображения сданного сырья на локальный диск.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/trash2treasure/trash2treasure/internal/validation"
)

// ErrDisallowedExtension возвращается для файлов с неразрешённым расширением.
var ErrDisallowedExtension = errors.New("file extension is not allowed")

// Store сохраняет загруженные изображения в заданный каталог.
type Store struct {
	dir string
}

// NewStore создаёт хранилище изображений и каталог для них, если его нет.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir возвращает каталог, в котором хранятся изображения.
func (s *Store) Dir() string {
	return s.dir
}

// Save записывает файл в хранилище и возвращает имя, под которым он сохранён.
// Имя дополняется случайным префиксом, чтобы одинаковые имена файлов
// не перезаписывали друг друга.
func (s *Store) Save(filename string, src io.Reader) (string, error) {
	if !validation.IsAllowedImageFilename(filename) {
		return "", ErrDisallowedExtension
	}

	stored := uuid.NewString() + "_" + sanitizeFilename(filename)

	dst, err := os.Create(filepath.Join(s.dir, stored))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("write file: %w", err)
	}

	return stored, nil
}

// sanitizeFilename отбрасывает путь и заменяет небезопасные символы.
func sanitizeFilename(filename string) string {
	base := filepath.Base(filepath.ToSlash(filename))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}
