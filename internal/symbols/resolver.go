// Package symbols resolves card anchors against files on disk.
package symbols

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/reconcile"
)

// ErrOutsideRoot is returned for paths that escape the workspace root.
var ErrOutsideRoot = errors.New("symbols: path escapes workspace root") //nolint:gochecknoglobals // sentinel error

// FileResolver finds a symbol as a whole identifier inside a workspace file.
type FileResolver struct {
	Root string
}

func NewFileResolver(root string) (*FileResolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("symbols.NewFileResolver: %w", err)
	}
	return &FileResolver{Root: abs}, nil
}

func (r *FileResolver) abs(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("symbols.FileResolver(%s): %w", path, ErrOutsideRoot)
	}
	return filepath.Join(r.Root, clean), nil
}

// Resolve reports where symbol first occurs in path. An empty symbol
// resolves to the top of the file.
func (r *FileResolver) Resolve(ctx context.Context, path, symbol string) (reconcile.Location, bool, error) {
	full, err := r.abs(path)
	if err != nil {
		return reconcile.Location{}, false, err
	}

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return reconcile.Location{}, false, nil
	}
	if err != nil {
		return reconcile.Location{}, false, fmt.Errorf("symbols.FileResolver.Resolve(%s): %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return reconcile.Location{}, false, fmt.Errorf("symbols.FileResolver.Resolve(%s): %w", path, err)
	}
	if info.IsDir() {
		return reconcile.Location{}, false, nil
	}

	loc := reconcile.Location{Path: filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))}
	if symbol == "" {
		return loc, true, nil
	}

	// Lines of any length are read whole, so minified files resolve too.
	rd := bufio.NewReader(f)
	for line := 0; ; line++ {
		if line%256 == 0 && ctx.Err() != nil {
			return reconcile.Location{}, false, fmt.Errorf("symbols.FileResolver.Resolve(%s): %w", path, ctx.Err())
		}
		text, err := rd.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return reconcile.Location{}, false, fmt.Errorf("symbols.FileResolver.Resolve(%s): %w", path, err)
		}
		text = strings.TrimSuffix(strings.TrimSuffix(text, "\n"), "\r")
		if col, ok := findIdent(text, symbol); ok {
			loc.Range = domain.Range{
				Start: domain.Position{Line: line, Character: col},
				End:   domain.Position{Line: line, Character: col + utf8.RuneCountInString(symbol)},
			}
			return loc, true, nil
		}
		if err != nil {
			return reconcile.Location{}, false, nil
		}
	}
}

// CodeLink renders loc as a file URL with a 1-based line fragment.
func (r *FileResolver) CodeLink(loc reconcile.Location) string {
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(filepath.Join(r.Root, filepath.FromSlash(loc.Path))),
		Fragment: fmt.Sprintf("L%d", loc.Range.Start.Line+1),
	}
	return u.String()
}

// findIdent returns the rune column of the first occurrence of ident in
// line that is not part of a longer identifier.
func findIdent(line, ident string) (int, bool) {
	offset := 0
	for {
		i := strings.Index(line[offset:], ident)
		if i < 0 {
			return 0, false
		}
		start := offset + i
		end := start + len(ident)

		before, _ := utf8.DecodeLastRuneInString(line[:start])
		after, _ := utf8.DecodeRuneInString(line[end:])
		if (start == 0 || !isIdentRune(before)) && (end == len(line) || !isIdentRune(after)) {
			return utf8.RuneCountInString(line[:start]), true
		}
		offset = start + 1
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
