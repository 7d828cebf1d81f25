package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, dir, hash, id string, lines ...string) string {
	t.Helper()
	projDir := filepath.Join(dir, hash)
	if err := os.MkdirAll(projDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(projDir, id+".jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseLogFile_StringContent(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "-home-me-proj", "s1",
		`{"type":"summary","cwd":"/home/me/proj","version":"1.0.44"}`,
		`{"type":"user","message":{"role":"user","content":"fix the login bug"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"Looking at the login flow now."}}`,
	)

	meta, err := parseLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ProjectPath != "/home/me/proj" {
		t.Errorf("ProjectPath = %q", meta.ProjectPath)
	}
	if meta.CLIVersion != "1.0.44" {
		t.Errorf("CLIVersion = %q", meta.CLIVersion)
	}
	if meta.LastMessageRole != RoleAssistant {
		t.Errorf("LastMessageRole = %q", meta.LastMessageRole)
	}
	if meta.LastMessagePreview != "Looking at the login flow now." {
		t.Errorf("LastMessagePreview = %q", meta.LastMessagePreview)
	}
}

func TestParseLogFile_BlockContent(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "hash", "s1",
		`{"type":"user","cwd":"/p","message":{"role":"user","content":[{"type":"tool_result","text":"ignored"},{"type":"text","text":"the actual text"}]}}`,
	)

	meta, err := parseLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastMessagePreview != "the actual text" {
		t.Errorf("LastMessagePreview = %q", meta.LastMessagePreview)
	}
	if meta.LastMessageRole != RoleUser {
		t.Errorf("LastMessageRole = %q", meta.LastMessageRole)
	}
}

func TestParseLogFile_PreviewTruncation(t *testing.T) {
	long := strings.Repeat("x", 300)
	dir := t.TempDir()
	path := writeLog(t, dir, "hash", "s1",
		fmt.Sprintf(`{"type":"user","message":{"role":"user","content":"%s"}}`, long),
	)

	meta, err := parseLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(meta.LastMessagePreview)) != previewLimit+3 {
		t.Errorf("preview length = %d, want %d", len([]rune(meta.LastMessagePreview)), previewLimit+3)
	}
	if !strings.HasSuffix(meta.LastMessagePreview, "...") {
		t.Error("truncated preview must end with ellipsis")
	}
}

func TestParseLogFile_SkipsNonMessageRecords(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "hash", "s1",
		`{"type":"user","message":{"role":"user","content":"the question"}}`,
		`{"type":"file-history-snapshot","snapshot":{}}`,
		`{"type":"progress"}`,
	)

	meta, err := parseLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastMessageRole != RoleUser {
		t.Errorf("LastMessageRole = %q, want user", meta.LastMessageRole)
	}
	if meta.LastMessagePreview != "the question" {
		t.Errorf("LastMessagePreview = %q", meta.LastMessagePreview)
	}
}

func TestParseLogFile_LargeFileDiscardsPartialTailLine(t *testing.T) {
	// Build a file bigger than the tail window whose window boundary falls
	// mid-record. The partial first line must be discarded, not misparsed.
	dir := t.TempDir()
	var lines []string
	lines = append(lines, `{"type":"summary","cwd":"/p","version":"2.0"}`)
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"type":"assistant","message":{"role":"assistant","content":"filler message number %d with some padding text to grow the file"}}`, i))
	}
	lines = append(lines, `{"type":"user","message":{"role":"user","content":"final question"}}`)
	path := writeLog(t, dir, "hash", "s1", lines...)

	info, _ := os.Stat(path)
	if info.Size() <= tailWindow {
		t.Fatalf("test file too small (%d bytes) to exercise the tail window", info.Size())
	}

	meta, err := parseLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastMessageRole != RoleUser {
		t.Errorf("LastMessageRole = %q, want user", meta.LastMessageRole)
	}
	if meta.LastMessagePreview != "final question" {
		t.Errorf("LastMessagePreview = %q", meta.LastMessagePreview)
	}
	// cwd lives in the head window regardless of file size.
	if meta.ProjectPath != "/p" {
		t.Errorf("ProjectPath = %q", meta.ProjectPath)
	}
}

func TestParseLogFile_MalformedLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "hash", "s1",
		`not json at all`,
		`{"type":"user","message":{"role":"user","content":"works anyway"}}`,
		`{broken`,
	)

	meta, err := parseLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.LastMessagePreview != "works anyway" {
		t.Errorf("LastMessagePreview = %q", meta.LastMessagePreview)
	}
}

func TestSynthesizeProjectPath(t *testing.T) {
	tests := []struct {
		hash string
		want string
	}{
		{"-home-me-proj", "/home/me/proj"},
		{"-Users-dev-src-app", "/Users/dev/src/app"},
		{"relative-thing", "relative/thing"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := synthesizeProjectPath(tt.hash); got != tt.want {
			t.Errorf("synthesizeProjectPath(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}

func TestTruncatePreview_CollapsesWhitespace(t *testing.T) {
	got := truncatePreview("  a\nb\t c  ", 200)
	if got != "a b c" {
		t.Errorf("truncatePreview = %q", got)
	}
}
