// Package blob defines where generated report files live and how stored
// references are checked before they are handed to a store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
)

// KeyPrefix is the only namespace report files are written to or read from.
const KeyPrefix = "reports/"

var (
	// ErrInvalidReference is returned for a file reference that fails validation.
	ErrInvalidReference = errors.New("invalid file reference")

	// ErrObjectNotFound is returned when no object exists under a key.
	ErrObjectNotFound = errors.New("blob object not found")
)

// allowedExtensions lists the file types a reference may point at.
var allowedExtensions = map[string]bool{
	".xlsx": true,
	".csv":  true,
	".pdf":  true,
	".json": true,
}

// KeyHints carries what a store needs to namespace an object.
type KeyHints struct {
	ReportType string
	Scope      string
	JobID      uuid.UUID
	Format     domain.Format
	CreatedAt  time.Time
}

// Object describes a stored file.
type Object struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Store persists report files.
type Store interface {
	// Put stores data under the key built from hints.
	Put(ctx context.Context, data []byte, hints KeyHints) (Object, error)

	// Get returns the bytes stored under key, or ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// segment reduces s to a single safe path segment.
func segment(s, fallback string) string {
	s = strings.Trim(unsafeSegment.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return fallback
	}
	return s
}

// BuildKey returns reports/<type>/<scope|global>/<yyyymmddThhmmss>-<jobid8>.<ext>.
func BuildKey(h KeyHints) string {
	ts := h.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s%s/%s/%s-%s%s",
		KeyPrefix,
		segment(h.ReportType, "report"),
		segment(h.Scope, "global"),
		ts.UTC().Format("20060102T150405"),
		h.JobID.String()[:8],
		h.Format.Extension(),
	)
}

// ValidateReference checks a stored reference against the key namespace and
// the extension allow-list. It must pass before any store call.
func ValidateReference(ref string) error {
	switch {
	case ref == "":
		return fmt.Errorf("%w: empty", ErrInvalidReference)
	case strings.ContainsRune(ref, 0):
		return fmt.Errorf("%w: contains a null byte", ErrInvalidReference)
	case strings.Contains(ref, `\`):
		return fmt.Errorf("%w: contains a backslash", ErrInvalidReference)
	case strings.Contains(ref, ".."):
		return fmt.Errorf("%w: contains a traversal sequence", ErrInvalidReference)
	case strings.HasPrefix(ref, "/"):
		return fmt.Errorf("%w: absolute path", ErrInvalidReference)
	case !strings.HasPrefix(ref, KeyPrefix):
		return fmt.Errorf("%w: outside %s", ErrInvalidReference, KeyPrefix)
	case path.Clean(ref) != ref:
		return fmt.Errorf("%w: not a canonical path", ErrInvalidReference)
	case !allowedExtensions[strings.ToLower(path.Ext(ref))]:
		return fmt.Errorf("%w: extension %q not allowed", ErrInvalidReference, path.Ext(ref))
	}
	return nil
}
