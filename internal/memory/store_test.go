package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "个人记忆"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestSaveSanitizesFilename(t *testing.T) {
	s := newTestStore(t)

	name, path, err := s.Save("../我的 基本信息?.md", "# 我\n内容")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if name != ".._我的_基本信息_.md" {
		t.Fatalf("unexpected filename %q", name)
	}
	if filepath.Dir(path) != s.Dir() {
		t.Fatalf("note escaped the notes dir: %s", path)
	}

	if _, _, err := s.Save("..", "x"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestSaveAddsMarkdownExtension(t *testing.T) {
	s := newTestStore(t)
	name, _, err := s.Save("愿景", "目标")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if name != "愿景.md" {
		t.Fatalf("unexpected filename %q", name)
	}
}

func TestListDerivesTitleAndCategory(t *testing.T) {
	s := newTestStore(t)
	mustSave(t, s, "基本信息.md", "# 关于我\n\n**姓名**：张小明")
	mustSave(t, s, "家庭相册.md", "没有标题")
	mustSave(t, s, "随笔.md", "# 随笔\n")
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	notes, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(notes))
	}

	byName := map[string]Note{}
	for _, n := range notes {
		byName[n.Filename] = n
	}
	cases := []struct{ file, title, category string }{
		{"基本信息.md", "关于我", "个人信息"},
		{"家庭相册.md", "家庭相册", "家庭关系"},
		{"随笔.md", "随笔", "个人记忆"},
	}
	for _, c := range cases {
		n, ok := byName[c.file]
		if !ok {
			t.Fatalf("missing %s", c.file)
		}
		if n.Title != c.title || n.Category != c.category {
			t.Errorf("%s: got title=%q category=%q", c.file, n.Title, n.Category)
		}
		if n.ID != c.file || n.Timestamp == 0 {
			t.Errorf("%s: unexpected id/timestamp %q %d", c.file, n.ID, n.Timestamp)
		}
	}
}

func TestListIsCachedUntilInvalidated(t *testing.T) {
	s := newTestStore(t)
	mustSave(t, s, "a.md", "a")
	if notes, _ := s.List(); len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}

	// Written behind the store's back, like the Q CLI does.
	if err := os.WriteFile(filepath.Join(s.Dir(), "b.md"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	if notes, _ := s.List(); len(notes) != 1 {
		t.Fatalf("expected cached listing, got %d notes", len(notes))
	}

	s.Invalidate()
	if notes, _ := s.List(); len(notes) != 2 {
		t.Fatalf("expected 2 notes after invalidate, got %d", len(notes))
	}
}

func TestUpdateTitle(t *testing.T) {
	s := newTestStore(t)
	mustSave(t, s, "with.md", "# 旧标题\n正文")
	mustSave(t, s, "without.md", "正文")

	if _, err := s.Update("with.md", "新标题", "# 旧标题\n正文改"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := readNote(t, s, "with.md"); got != "# 新标题\n正文改" {
		t.Fatalf("unexpected content %q", got)
	}

	if _, err := s.Update("without.md", "加标题", "正文"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := readNote(t, s, "without.md"); got != "# 加标题\n\n正文" {
		t.Fatalf("unexpected content %q", got)
	}

	if _, err := s.Update("missing.md", "", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Update("../escape.md", "", "x"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	mustSave(t, s, "gone.md", "x")

	if err := s.Delete("gone.md"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete("gone.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendTranscriptWritesHeadingOnce(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Dir(), "老祖评测记录.md")

	for _, entry := range []string{"## 第一次\n", "## 第二次\n"} {
		if err := s.AppendTranscript(path, entry); err != nil {
			t.Fatalf("AppendTranscript failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if strings.Count(got, "# 老祖评测记录") != 1 {
		t.Fatalf("heading should appear once: %q", got)
	}
	if !strings.HasSuffix(got, "## 第一次\n## 第二次\n") {
		t.Fatalf("entries not appended in order: %q", got)
	}
}

func TestAppendTranscriptConcurrentWritersShareOneHeading(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Dir(), "老祖评测记录.md")

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.AppendTranscript(path, fmt.Sprintf("## 第%d次\n", i)); err != nil {
				t.Errorf("AppendTranscript failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if n := strings.Count(got, "# 老祖评测记录"); n != 1 {
		t.Fatalf("heading written %d times: %q", n, got)
	}
	if !strings.HasPrefix(got, "# 老祖评测记录\n\n") {
		t.Fatalf("heading is not first: %q", got)
	}
	if n := strings.Count(got, "## 第"); n != writers {
		t.Fatalf("expected %d entries, got %d", writers, n)
	}
}

func mustSave(t *testing.T, s *Store, name, content string) {
	t.Helper()
	if _, _, err := s.Save(name, content); err != nil {
		t.Fatalf("Save(%s) failed: %v", name, err)
	}
}

func readNote(t *testing.T, s *Store, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(s.Dir(), name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
