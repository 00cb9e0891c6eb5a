// Package files stores result attachments: metadata in Postgres, bytes in S3.
package files

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("files: not found")
	ErrTooLarge = errors.New("files: file too large")
)

// ResultFile is attachment metadata. SendLogID is set once the file has been
// sent, which makes the dispatch resendable.
type ResultFile struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	FileSize    int64     `json:"file_size"`
	StoragePath string    `json:"storage_path"`
	SendLogID   string    `json:"send_log_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoragePath builds results/{yyyy}/{mm}/{uuid}-{name}.
func StoragePath(now time.Time, name string) string {
	now = now.UTC()
	return fmt.Sprintf("results/%04d/%02d/%s-%s", now.Year(), int(now.Month()), uuid.NewString(), SanitizeName(name))
}

// SanitizeName keeps letters, digits, dot, dash and underscore from the base
// name; everything else becomes an underscore.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
