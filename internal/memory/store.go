// Package memory manages the personal notes directory: markdown CRUD, a
// cached listing, and the fact extractor used for chat telemetry.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when a note file does not exist.
	ErrNotFound = errors.New("note not found")
	// ErrInvalidName is returned for filenames that escape the notes directory.
	ErrInvalidName = errors.New("invalid note filename")
)

const defaultCategory = "个人记忆"

// categoryRules map filename keywords to display categories; first match wins.
var categoryRules = []struct{ keyword, category string }{
	{"基本信息", "个人信息"},
	{"愿景", "人生规划"},
	{"价值观", "个人价值"},
	{"成就", "个人成就"},
	{"时间线", "人生历程"},
	{"习惯", "生活习惯"},
	{"人际关系", "人际关系"},
	{"家庭", "家庭关系"},
	{"愿望", "个人愿望"},
	{"快照", "个人资料"},
}

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9\p{Han}.-]`)

// Note is one markdown file in the notes directory.
type Note struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Category   string `json:"category"`
	Timestamp  int64  `json:"timestamp"` // mtime, unix millis
	Filename   string `json:"filename"`
	SourceFile string `json:"sourceFile"`
}

// Store reads and writes notes under one directory.
type Store struct {
	dir string

	mu    sync.Mutex
	cache []Note
	valid bool
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create notes dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the notes directory.
func (s *Store) Dir() string {
	return s.dir
}

// Invalidate drops the cached listing.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.invalidateLocked()
	s.mu.Unlock()
}

func (s *Store) invalidateLocked() {
	s.valid = false
	s.cache = nil
}

// List returns all .md notes sorted by filename.
func (s *Store) List() ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid {
		return append([]Note(nil), s.cache...), nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read notes dir: %w", err)
	}

	notes := make([]Note, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		note, err := s.read(e.Name())
		if err != nil {
			slog.Warn("Failed to read note", "filename", e.Name(), "error", err)
			continue
		}
		notes = append(notes, note)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Filename < notes[j].Filename })

	s.cache = notes
	s.valid = true
	return append([]Note(nil), notes...), nil
}

func (s *Store) read(name string) (Note, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return Note{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Note{}, err
	}
	content := string(data)
	return Note{
		ID:         name,
		Title:      titleOf(content, name),
		Content:    content,
		Category:   CategoryFor(name),
		Timestamp:  info.ModTime().UnixMilli(),
		Filename:   name,
		SourceFile: name,
	}, nil
}

// SafeFilename replaces characters outside letters, digits, Han, dot and dash.
func SafeFilename(name string) string {
	return unsafeNameRe.ReplaceAllString(name, "_")
}

// Save writes content to a sanitized filename and returns the name and path used.
func (s *Store) Save(filename, content string) (string, string, error) {
	name := SafeFilename(strings.TrimSpace(filename))
	if err := checkName(name); err != nil {
		return "", "", err
	}
	if filepath.Ext(name) == "" {
		name += ".md"
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", fmt.Errorf("write note %s: %w", name, err)
	}
	s.Invalidate()
	return name, path, nil
}

// Update rewrites an existing note. A non-empty title replaces every
// "# " heading line, or is prepended when the content has none.
func (s *Store) Update(filename, title, content string) (string, error) {
	path, err := s.existing(filename)
	if err != nil {
		return "", err
	}

	updated := content
	if title != "" {
		lines := strings.Split(content, "\n")
		found := false
		for i, line := range lines {
			if strings.HasPrefix(line, "# ") {
				lines[i] = "# " + title
				found = true
			}
		}
		if found {
			updated = strings.Join(lines, "\n")
		} else {
			updated = "# " + title + "\n\n" + content
		}
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write note %s: %w", filename, err)
	}
	s.Invalidate()
	return path, nil
}

// Delete removes a note.
func (s *Store) Delete(filename string) error {
	path, err := s.existing(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete note %s: %w", filename, err)
	}
	s.Invalidate()
	return nil
}

// AppendTranscript appends entry to the evaluation record at path, writing
// a heading first when the file is new. Appends are serialized so the
// heading is written exactly once.
func (s *Store) AppendTranscript(path, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if isNew {
		if _, err := f.WriteString("# 老祖评测记录\n\n"); err != nil {
			return fmt.Errorf("write transcript heading: %w", err)
		}
	}
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	if filepath.Dir(path) == filepath.Clean(s.dir) {
		s.invalidateLocked()
	}
	return nil
}

func (s *Store) existing(filename string) (string, error) {
	if err := checkName(filename); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat note %s: %w", filename, err)
	}
	return path, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	return nil
}

// CategoryFor derives a display category from filename keywords.
func CategoryFor(filename string) string {
	for _, r := range categoryRules {
		if strings.Contains(filename, r.keyword) {
			return r.category
		}
	}
	return defaultCategory
}

func titleOf(content, filename string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return strings.TrimSuffix(filename, ".md")
}
