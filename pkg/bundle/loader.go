// Package bundle loads, validates, and signs PolicyBundle artifacts.
//
// Loading enforces, in order: source guards (symlink/path-traversal/size
// for file sources), a size guard for in-memory JSON, a structural depth
// guard, shape validation, semantic validation (timestamps), and optional
// HMAC-SHA256 signature verification. Any failure at any stage aborts the
// load with a descriptive, field-qualified error, except signature
// failures, which collapse to one generic message.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentguard/agentguard/pkg/schema"
)

// DefaultMaxSizeBytes is the default ceiling for a policy bundle, whether
// read from a file or supplied as a JSON string/stream.
const DefaultMaxSizeBytes = 1 << 20 // 1 MiB

// maxDepth is the maximum structural nesting depth a bundle may declare.
const maxDepth = 20

// Source selects exactly one way to obtain bundle bytes. Set exactly one
// field.
type Source struct {
	// FilePath loads from disk, subject to the TOCTOU-safe file guards.
	FilePath string
	// JSON loads from an in-memory JSON document.
	JSON []byte
	// Parsed loads from an already-decoded bundle (e.g. constructed by the
	// host in code). It is re-serialized and run through the same
	// validation pipeline as any other source.
	Parsed *schema.PolicyBundle
	// Loader is a host-supplied asynchronous source, invoked with ctx and
	// expected to return raw JSON bytes.
	Loader func(ctx context.Context) ([]byte, error)
}

func (s Source) count() int {
	n := 0
	if s.FilePath != "" {
		n++
	}
	if s.JSON != nil {
		n++
	}
	if s.Parsed != nil {
		n++
	}
	if s.Loader != nil {
		n++
	}
	return n
}

// Loader validates and loads policy bundles.
type Loader struct {
	// BaseDir is the directory file-path sources must resolve to or
	// beneath. Defaults to the process working directory.
	BaseDir string
	// MaxSizeBytes bounds both file and in-memory JSON sources. Defaults
	// to DefaultMaxSizeBytes.
	MaxSizeBytes int64
	// Secret, when non-nil, is required for signature verification: a
	// bundle loaded through this Loader must carry a valid signature
	// under Secret. When nil, signature verification is skipped
	// entirely (an unsigned deployment).
	Secret []byte
}

// NewLoader builds a Loader with defaults applied.
func NewLoader() *Loader {
	wd, _ := os.Getwd()
	return &Loader{
		BaseDir:      wd,
		MaxSizeBytes: DefaultMaxSizeBytes,
	}
}

func (l *Loader) maxSize() int64 {
	if l.MaxSizeBytes > 0 {
		return l.MaxSizeBytes
	}
	return DefaultMaxSizeBytes
}

// Load resolves src to bytes, then runs the full validation pipeline.
func (l *Loader) Load(ctx context.Context, src Source) (*schema.PolicyBundle, error) {
	if src.count() != 1 {
		return nil, ErrNoSource
	}

	var (
		data []byte
		err  error
	)
	switch {
	case src.FilePath != "":
		data, err = l.readFile(src.FilePath)
	case src.JSON != nil:
		data = src.JSON
	case src.Parsed != nil:
		data, err = json.Marshal(src.Parsed)
	case src.Loader != nil:
		data, err = src.Loader(ctx)
	}
	if err != nil {
		return nil, err
	}

	return l.loadBytes(data)
}

// readFile applies the TOCTOU-safe file guards: resolve to an absolute
// path beneath BaseDir, Lstat (never following a symlink) to reject
// symlinks and non-regular files, then reject files larger than
// MaxSizeBytes before ever reading their contents.
func (l *Loader) readFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: resolving path: %w", err)
	}
	base := l.BaseDir
	if base == "" {
		base, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("bundle: resolving base directory: %w", err)
		}
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("bundle: resolving base directory: %w", err)
	}

	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || rel == ".." || hasParentPrefix(rel) {
		return nil, ErrPathOutsideBase
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("bundle: stat %q: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrSymlinkRejected
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotRegularFile
	}
	if info.Size() > l.maxSize() {
		return nil, ErrFileTooLarge
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading %q: %w", path, err)
	}
	return data, nil
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' &&
		(len(rel) == 2 || os.IsPathSeparator(rel[2]))
}

func (l *Loader) loadBytes(data []byte) (*schema.PolicyBundle, error) {
	if int64(len(data)) > l.maxSize() {
		return nil, ErrJSONTooLarge
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("bundle: parsing JSON: %w", err)
	}

	if exceedsDepth(raw, maxDepth) {
		return nil, ErrTooDeep
	}

	top, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("bundle: top-level JSON value must be an object")
	}
	if err := validateShape(top); err != nil {
		return nil, err
	}

	var b schema.PolicyBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bundle: decoding: %w", err)
	}

	if err := validateSemantics(&b); err != nil {
		return nil, err
	}

	if l.Secret != nil {
		if err := Verify(&b, l.Secret); err != nil {
			return nil, err
		}
	}

	return &b, nil
}

func validateSemantics(b *schema.PolicyBundle) error {
	if !b.GeneratedAt.Before(b.ExpiresAt) {
		return ErrBadTimestamps
	}
	if !b.ExpiresAt.After(time.Now()) {
		return ErrExpired
	}
	if len(b.Rules) > maxRuleCount {
		return ErrTooManyRules
	}
	return nil
}

// exceedsDepth reports whether v's structural nesting depth exceeds
// limit, short-circuiting the recursion as soon as the answer is known.
func exceedsDepth(v any, limit int) bool {
	return depthFrom(v, 0, limit) > limit
}

func depthFrom(v any, depth, limit int) int {
	if depth > limit {
		return depth
	}
	switch t := v.(type) {
	case map[string]any:
		max := depth
		for _, val := range t {
			if d := depthFrom(val, depth+1, limit); d > max {
				max = d
				if max > limit {
					return max
				}
			}
		}
		return max
	case []any:
		max := depth
		for _, val := range t {
			if d := depthFrom(val, depth+1, limit); d > max {
				max = d
				if max > limit {
					return max
				}
			}
		}
		return max
	default:
		return depth
	}
}
