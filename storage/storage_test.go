package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatdesk/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testMessage(id, conv string, seq int, role model.Role, content string) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		Role:           role,
		Content:        content,
		OrderSeq:       seq,
		CreatedAt:      time.UnixMilli(1700000000000 + int64(seq)),
		Status:         model.StatusComplete,
	}
}

func TestOpenCreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if db.Path() != filepath.Join(dir, dbFileName) {
		t.Errorf("Path() = %q", db.Path())
	}
	for _, col := range []string{"status", "metadata", "is_context_edge"} {
		ok, err := db.columnExists("messages", col)
		if err != nil || !ok {
			t.Errorf("column %s missing (err=%v)", col, err)
		}
	}

	// Reopening runs the migrations again without failing.
	db.Close()
	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	db2.Close()
}

func TestMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Messages()

	in := testMessage("m1", "c1", 1, model.RoleAssistant, "hello")
	in.ParentID = "u1"
	in.IsVariant = true
	in.Metadata = model.MessageMetadata{
		Model:        "gpt-4o",
		Provider:     "openai",
		OutputTokens: 12,
		Reasoning:    "thinking",
		ContextEdge:  true,
	}

	if err := store.InsertMessage(ctx, in); err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}

	got, err := store.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetMessage() = nil")
	}
	if got.Content != in.Content || got.ParentID != in.ParentID || got.Role != in.Role {
		t.Errorf("GetMessage() = %+v, want %+v", got, in)
	}
	if got.Metadata != in.Metadata {
		t.Errorf("Metadata = %+v, want %+v", got.Metadata, in.Metadata)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) || !got.IsVariant {
		t.Errorf("CreatedAt/IsVariant mismatch: %+v", got)
	}

	missing, err := store.GetMessage(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetMessage(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Messages()

	m := testMessage("m1", "c1", 1, model.RoleUser, "draft")
	if err := store.InsertMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	m.Content = "final"
	m.Status = model.StatusError
	m.Metadata.Error = "boom"
	if err := store.UpdateMessage(ctx, m); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}
	got, _ := store.GetMessage(ctx, "m1")
	if got.Content != "final" || got.Status != model.StatusError || got.Metadata.Error != "boom" {
		t.Errorf("after update = %+v", got)
	}

	err := store.UpdateMessage(ctx, testMessage("ghost", "c1", 2, model.RoleUser, ""))
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("UpdateMessage(ghost) error = %v, want ErrNotFound", err)
	}

	if err := store.DeleteMessage(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetMessage(ctx, "m1"); got != nil {
		t.Error("message still present after delete")
	}
}

func TestConversationQueries(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Messages()

	same := time.UnixMilli(1700000000000)
	rows := []model.Message{
		testMessage("u1", "c1", 1, model.RoleUser, "What is Go?"),
		testMessage("a1", "c1", 2, model.RoleAssistant, "A language"),
		testMessage("a2", "c1", 3, model.RoleAssistant, "A programming language"),
		testMessage("u2", "c1", 4, model.RoleUser, "Who made it?"),
		testMessage("x1", "c2", 1, model.RoleUser, "other conversation about go"),
	}
	rows[1].ParentID = "u1"
	rows[2].ParentID = "u1"
	rows[2].IsVariant = true
	// Identical timestamps fall back to order_seq.
	rows[1].CreatedAt, rows[2].CreatedAt = same, same
	rows[0].CreatedAt = same

	// Insert out of order.
	for _, i := range []int{3, 1, 0, 4, 2} {
		if err := store.InsertMessage(ctx, rows[i]); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("max order seq", func(t *testing.T) {
		tests := []struct {
			conv string
			want int
		}{
			{"c1", 4},
			{"c2", 1},
			{"empty", 0},
		}
		for _, tt := range tests {
			got, err := store.MaxOrderSeq(ctx, tt.conv)
			if err != nil || got != tt.want {
				t.Errorf("MaxOrderSeq(%s) = %d, %v; want %d", tt.conv, got, err, tt.want)
			}
		}
	})

	t.Run("query order", func(t *testing.T) {
		got, err := store.QueryMessages(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		assertIDs(t, got, "u1", "a1", "a2", "u2")
	})

	t.Run("recent", func(t *testing.T) {
		got, err := store.RecentMessages(ctx, "c1", 2)
		if err != nil {
			t.Fatal(err)
		}
		assertIDs(t, got, "u2", "a2")
	})

	t.Run("variants and main", func(t *testing.T) {
		variants, err := store.MessageVariants(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		assertIDs(t, variants, "a2")

		main, err := store.MainMessageByParent(ctx, "c1", "u1")
		if err != nil || main == nil || main.ID != "a1" {
			t.Errorf("MainMessageByParent() = %v, %v", main, err)
		}
	})

	t.Run("last user", func(t *testing.T) {
		last, err := store.LastUserMessage(ctx, "c1")
		if err != nil || last == nil || last.ID != "u2" {
			t.Errorf("LastUserMessage() = %v, %v", last, err)
		}
	})

	t.Run("search", func(t *testing.T) {
		tests := []struct {
			name  string
			conv  string
			query string
			want  int
		}{
			{"scoped", "c1", "language", 2},
			{"case insensitive", "c1", "WHO", 1},
			{"all conversations", "", "go", 2},
			{"like wildcard is literal", "", "%", 0},
			{"empty query", "", "  ", 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := store.SearchMessages(ctx, tt.conv, tt.query, 0)
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != tt.want {
					t.Errorf("SearchMessages(%q) = %d results, want %d", tt.query, len(got), tt.want)
				}
			})
		}
	})

	t.Run("conversations", func(t *testing.T) {
		convs, err := store.Conversations(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(convs) != 2 {
			t.Fatalf("Conversations() = %d, want 2", len(convs))
		}
		for _, c := range convs {
			if c.ID == "c1" && (c.MessageCount != 4 || c.FirstMessage != "What is Go?") {
				t.Errorf("c1 summary = %+v", c)
			}
		}
	})

	t.Run("delete all", func(t *testing.T) {
		n, err := store.DeleteAllMessages(ctx, "c1")
		if err != nil || n != 4 {
			t.Fatalf("DeleteAllMessages() = %d, %v", n, err)
		}
		left, _ := store.QueryMessages(ctx, "c1")
		if len(left) != 0 {
			t.Errorf("c1 still has %d messages", len(left))
		}
		other, _ := store.QueryMessages(ctx, "c2")
		if len(other) != 1 {
			t.Errorf("c2 messages = %d, want 1", len(other))
		}
	})
}

func assertIDs(t *testing.T, messages []model.Message, want ...string) {
	t.Helper()
	if len(messages) != len(want) {
		t.Fatalf("got %d messages, want %d", len(messages), len(want))
	}
	for i, m := range messages {
		if m.ID != want[i] {
			t.Errorf("message[%d] = %s, want %s", i, m.ID, want[i])
		}
	}
}

func TestSettingsStore(t *testing.T) {
	ctx := context.Background()
	settings := openTestDB(t).Settings()

	var missing string
	if settings.Get(ctx, "absent", &missing) {
		t.Error("Get(absent) = true")
	}

	type window struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := settings.Set(ctx, "window", window{800, 600}); err != nil {
		t.Fatal(err)
	}
	var got window
	if !settings.Get(ctx, "window", &got) || got != (window{800, 600}) {
		t.Errorf("Get(window) = %+v", got)
	}

	// A value of the wrong shape is reported as absent.
	var wrong []string
	if settings.Get(ctx, "window", &wrong) {
		t.Error("Get() with mismatched type = true")
	}

	if err := settings.Delete(ctx, "window"); err != nil {
		t.Fatal(err)
	}
	if settings.Get(ctx, "window", &got) {
		t.Error("Get() after delete = true")
	}
}

func TestModelStore(t *testing.T) {
	ctx := context.Background()
	models := openTestDB(t).Models()

	if _, found, err := models.ModelStatus(ctx, "p1", "m1"); err != nil || found {
		t.Errorf("ModelStatus(unset) found=%v err=%v", found, err)
	}
	if err := models.SetModelStatus(ctx, "p1", "m1", false); err != nil {
		t.Fatal(err)
	}
	enabled, found, err := models.ModelStatus(ctx, "p1", "m1")
	if err != nil || !found || enabled {
		t.Errorf("ModelStatus() = %v, %v, %v", enabled, found, err)
	}

	list, err := models.ProviderModels(ctx, "p1")
	if err != nil || len(list) != 0 {
		t.Errorf("ProviderModels(empty) = %v, %v", list, err)
	}

	remote := []model.ModelMeta{{ID: "m1", Name: "One", ProviderID: "p1"}, {ID: "m2", ProviderID: "p1"}}
	custom := []model.ModelMeta{{ID: "mine", ProviderID: "p1", IsCustom: true}}
	if err := models.SetProviderModels(ctx, "p1", remote); err != nil {
		t.Fatal(err)
	}
	if err := models.SetCustomModels(ctx, "p1", custom); err != nil {
		t.Fatal(err)
	}

	gotRemote, _ := models.ProviderModels(ctx, "p1")
	gotCustom, _ := models.CustomModels(ctx, "p1")
	if len(gotRemote) != 2 || gotRemote[0].Name != "One" {
		t.Errorf("ProviderModels() = %+v", gotRemote)
	}
	if len(gotCustom) != 1 || !gotCustom[0].IsCustom {
		t.Errorf("CustomModels() = %+v", gotCustom)
	}

	// Status flags survive list replacement.
	if err := models.SetProviderModels(ctx, "p1", nil); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := models.ModelStatus(ctx, "p1", "m1"); !found {
		t.Error("status dropped with model list")
	}
}
