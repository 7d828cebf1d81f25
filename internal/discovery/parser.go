package discovery

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// headWindow and tailWindow bound how much of a log file is read.
	// Session files grow to many megabytes; the metadata we need lives at
	// the two ends.
	headWindow = 4 * 1024
	tailWindow = 4 * 1024

	// previewLimit is the maximum preview length in characters.
	previewLimit = 200
)

// logRecord is the narrow slice of a CLI log line that discovery cares
// about. Everything else in the record is ignored.
type logRecord struct {
	Type    string `json:"type"`
	Cwd     string `json:"cwd"`
	Version string `json:"version"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentBlock is one element of a block-list message content.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parseLogFile extracts session metadata from a JSONL conversation log.
//
// The head window yields the project path (first cwd) and CLI version
// (first version); the tail window yields the most recent user/assistant
// message for the role and preview. The caller fills in ID, ProjectHash,
// and Timestamp.
func parseLogFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	meta := &Metadata{LastMessageRole: RoleUnknown}

	if err := parseHead(f, meta); err != nil {
		return nil, err
	}
	if err := parseTail(f, info.Size(), meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// parseHead scans the first window of the file for cwd and version,
// stopping early once both are known.
func parseHead(f *os.File, meta *Metadata) error {
	buf := make([]byte, headWindow)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("head read: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(buf[:n]))
	scanner.Buffer(make([]byte, 0, headWindow), headWindow)
	for scanner.Scan() {
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if meta.ProjectPath == "" && rec.Cwd != "" {
			meta.ProjectPath = rec.Cwd
		}
		if meta.CLIVersion == "" && rec.Version != "" {
			meta.CLIVersion = rec.Version
		}
		if meta.ProjectPath != "" && meta.CLIVersion != "" {
			break
		}
	}
	return nil
}

// parseTail scans the last window of the file, newest line first, for the
// most recent user/assistant message.
func parseTail(f *os.File, size int64, meta *Metadata) error {
	offset := size - tailWindow
	if offset < 0 {
		offset = 0
	}

	buf := make([]byte, size-offset)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("tail read: %w", err)
	}
	buf = buf[:n]

	// A mid-file read almost certainly starts inside a record; discard the
	// partial first line.
	if offset > 0 {
		if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
			buf = buf[idx+1:]
		} else {
			return nil
		}
	}

	lines := bytes.Split(buf, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type != string(RoleUser) && rec.Type != string(RoleAssistant) {
			continue
		}

		meta.LastMessageRole = Role(rec.Type)
		meta.LastMessagePreview = previewFromContent(rec.Message.Content)
		return nil
	}
	return nil
}

// previewFromContent extracts preview text from a message content field.
// Content is either a plain string or a list of content blocks, in which
// case the first text block wins.
func previewFromContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var blocks []contentBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return ""
		}
		for _, b := range blocks {
			if b.Type == "text" {
				text = b.Text
				break
			}
		}
	}
	return truncatePreview(text, previewLimit)
}

// truncatePreview normalizes whitespace and truncates to limit characters,
// appending an ellipsis when something was cut.
func truncatePreview(s string, limit int) string {
	s = strings.TrimSpace(strings.Join(strings.Fields(s), " "))
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
