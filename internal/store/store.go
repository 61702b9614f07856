package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Ref names a document translation.
type Ref struct {
	Doc    string `json:"doc"`
	Locale string `json:"locale"`
}

func (r Ref) String() string {
	if r.Locale == "" {
		return r.Doc
	}
	return r.Doc + "/" + r.Locale
}

// Revision is a saved state of a document.
type Revision struct {
	Ref
	Content  string    `json:"content"`
	Version  string    `json:"version"`
	Modified time.Time `json:"modified"`
	Author   string    `json:"author,omitempty"`
}

// Store persists documents. Save only succeeds when baseVersion is the
// version currently stored, the empty string standing for a document that
// does not exist yet. Each save creates a new minor version.
type Store interface {
	Save(ctx context.Context, ref Ref, content, author, baseVersion string) (Revision, error)
	Reload(ctx context.Context, ref Ref) (Revision, error)
	Close(ctx context.Context) error
}

const FirstVersion = "1.1"

// NextVersion returns the version following v.
func NextVersion(v string) string {
	if v == "" {
		return FirstVersion
	}
	major, minor := parseVersion(v)
	return fmt.Sprintf("%d.%d", major, minor+1)
}

func parseVersion(v string) (int, int) {
	parts := strings.SplitN(v, ".", 2)
	major, _ := strconv.Atoi(parts[0])
	minor := 0
	if len(parts) == 2 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

// CompareVersions compares major.minor versions the way strings.Compare
// compares strings. A missing version counts as 0.0.
func CompareVersions(a, b string) int {
	amaj, amin := parseVersion(a)
	bmaj, bmin := parseVersion(b)
	switch {
	case amaj != bmaj:
		return sign(amaj - bmaj)
	default:
		return sign(amin - bmin)
	}
}

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	}
	return 0
}

// check validates a save against the stored revision. stored is nil when the
// document does not exist.
func check(stored *Revision, ref Ref, baseVersion string) error {
	current := ""
	if stored != nil {
		current = stored.Version
	}
	if current != baseVersion {
		return fmt.Errorf("%v: stored %q, base %q: %w", ref, current, baseVersion, ErrVersionConflict)
	}
	return nil
}

func next(stored *Revision, ref Ref, content, author string) Revision {
	base := ""
	if stored != nil {
		base = stored.Version
	}
	return Revision{
		Ref:      ref,
		Content:  content,
		Version:  NextVersion(base),
		Modified: time.Now().UTC().Truncate(time.Millisecond),
		Author:   author,
	}
}
