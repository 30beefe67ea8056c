package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatdesk/config"
	"chatdesk/model"

	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"
)

// Export formats understood by WriteExport.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
)

const (
	maxFilenameLength = 50
	maxTitleWidth     = 30
	previewWidth      = 100
)

// Export is the on-disk form of an exported conversation.
type Export struct {
	ConversationID string          `json:"conversationId" yaml:"conversationId"`
	Title          string          `json:"title" yaml:"title"`
	ExportedAt     time.Time       `json:"exportedAt" yaml:"exportedAt"`
	Messages       []model.Message `json:"messages" yaml:"messages"`
}

// NewExport builds an export for messages, titled after the first user
// message when title is empty.
func NewExport(conversationID, title string, messages []model.Message) Export {
	if title == "" {
		var first string
		for _, m := range messages {
			if m.Role == model.RoleUser {
				first = m.Content
				break
			}
		}
		title = GenerateTitle(first)
	}
	return Export{
		ConversationID: conversationID,
		Title:          title,
		ExportedAt:     time.Now(),
		Messages:       messages,
	}
}

// WriteExport renders e to w in the given format.
func WriteExport(w io.Writer, e Export, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(e); err != nil {
			return err
		}
		return enc.Close()
	case FormatText:
		return writeText(w, e)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeText(w io.Writer, e Export) error {
	if _, err := fmt.Fprintf(w, "# %s\n\n", e.Title); err != nil {
		return err
	}
	for _, m := range e.Messages {
		label := string(m.Role)
		if m.IsVariant {
			label += " (variant)"
		}
		if _, err := fmt.Fprintf(w, "[%s] %s\n%s\n\n", m.CreatedAt.Format("2006-01-02 15:04"), label, m.Content); err != nil {
			return err
		}
	}
	return nil
}

// ExportToFile writes e to path, creating parent directories.
func ExportToFile(e Export, path, format string) error {
	// Ensure directory exists (0700 - user-only access)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// 0600: conversation exports contain sensitive data
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := WriteExport(f, e, format); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return f.Close()
}

var filenameReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-", "\"", "-",
	"<", "-", ">", "-", "|", "-", " ", "-", "\n", "-", "\r", "-",
)

// SanitizeFilename removes or replaces characters that are invalid in filenames
func SanitizeFilename(name string) string {
	name = strings.Trim(filenameReplacer.Replace(name), "-.")

	if r := []rune(name); len(r) > maxFilenameLength {
		name = string(r[:maxFilenameLength])
	}

	if name == "" {
		name = "conversation"
	}
	return name
}

// GenerateExportPath returns a timestamped file path in the user's
// Downloads directory.
func GenerateExportPath(title, format string) string {
	ext := format
	switch format {
	case "", FormatJSON:
		ext = "json"
	case FormatText:
		ext = "txt"
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("chatdesk-%s-%s.%s", SanitizeFilename(title), timestamp, ext)
	return filepath.Join(config.GetHomeDir(), "Downloads", filename)
}

// GenerateTitle derives a conversation title from the first user message.
func GenerateTitle(firstMessage string) string {
	name := strings.Join(strings.Fields(firstMessage), " ")
	if name == "" {
		return fmt.Sprintf("Conversation %s", time.Now().Format("Jan 2, 3:04 PM"))
	}
	return runewidth.Truncate(name, maxTitleWidth, "...")
}

// Preview shortens content to a single line for search results and listings.
func Preview(content string) string {
	return runewidth.Truncate(strings.Join(strings.Fields(content), " "), previewWidth, "...")
}
