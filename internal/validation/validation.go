// Package validation содержит функции валидации входных данных.
package validation

import "strings"

var allowedImageExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
}

// IsAllowedImageFilename проверяет имя файла изображения по списку
// разрешённых расширений. Содержимое файла не анализируется.
func IsAllowedImageFilename(filename string) bool {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	_, ok := allowedImageExtensions[ext]
	return ok
}
