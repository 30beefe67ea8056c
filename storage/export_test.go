package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatdesk/model"

	"gopkg.in/yaml.v3"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Trip planning", "Trip-planning"},
		{"path chars", "a/b\\c:d", "a-b-c-d"},
		{"trims", "..hello..", "hello"},
		{"empty", "???", "conversation"},
		{"long", strings.Repeat("x", 80), strings.Repeat("x", maxFilenameLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateTitle(t *testing.T) {
	if got := GenerateTitle("  what is\nGo  "); got != "what is Go" {
		t.Errorf("GenerateTitle() = %q", got)
	}
	long := GenerateTitle(strings.Repeat("word ", 20))
	if !strings.HasSuffix(long, "...") || len(long) > maxTitleWidth {
		t.Errorf("GenerateTitle(long) = %q", long)
	}
	if got := GenerateTitle(""); !strings.HasPrefix(got, "Conversation ") {
		t.Errorf("GenerateTitle(empty) = %q", got)
	}
}

func TestGenerateExportPath(t *testing.T) {
	t.Setenv("HOME", "/home/test")

	tests := []struct {
		format string
		ext    string
	}{
		{FormatJSON, ".json"},
		{"", ".json"},
		{FormatYAML, ".yaml"},
		{FormatText, ".txt"},
	}
	for _, tt := range tests {
		path := GenerateExportPath("My chat", tt.format)
		if filepath.Dir(path) != filepath.Join("/home/test", "Downloads") {
			t.Errorf("dir = %q", filepath.Dir(path))
		}
		base := filepath.Base(path)
		if !strings.HasPrefix(base, "chatdesk-My-chat-") || !strings.HasSuffix(base, tt.ext) {
			t.Errorf("GenerateExportPath(%q) = %q", tt.format, base)
		}
	}
}

func exportFixture() Export {
	return NewExport("c1", "", []model.Message{
		{ID: "u1", ConversationID: "c1", Role: model.RoleUser, Content: "Plan a trip", CreatedAt: time.UnixMilli(1700000000000), Status: model.StatusComplete},
		{ID: "a1", ConversationID: "c1", ParentID: "u1", Role: model.RoleAssistant, Content: "Sure", CreatedAt: time.UnixMilli(1700000001000), Status: model.StatusComplete,
			Metadata: model.MessageMetadata{Model: "m1", OutputTokens: 3}},
	})
}

func TestWriteExport(t *testing.T) {
	e := exportFixture()
	if e.Title != "Plan a trip" {
		t.Errorf("default title = %q", e.Title)
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteExport(&buf, e, FormatJSON); err != nil {
			t.Fatal(err)
		}
		var back Export
		if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
			t.Fatal(err)
		}
		if len(back.Messages) != 2 || back.Messages[1].Metadata.OutputTokens != 3 {
			t.Errorf("decoded = %+v", back)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteExport(&buf, e, FormatYAML); err != nil {
			t.Fatal(err)
		}
		var back Export
		if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
			t.Fatal(err)
		}
		if back.ConversationID != "c1" || back.Messages[0].Content != "Plan a trip" {
			t.Errorf("decoded = %+v", back)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteExport(&buf, e, FormatText); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		if !strings.HasPrefix(out, "# Plan a trip") || !strings.Contains(out, "] assistant\nSure") {
			t.Errorf("text export = %q", out)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := WriteExport(&bytes.Buffer{}, e, "xml"); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestExportToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	if err := ExportToFile(exportFixture(), path, FormatJSON); err != nil {
		t.Fatalf("ExportToFile() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}
