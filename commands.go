package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"chatdesk/chat"
	"chatdesk/config"
	"chatdesk/events"
	"chatdesk/model"
	"chatdesk/storage"
)

// withApp runs fn with a wired app and a context cancelled on Ctrl-C.
func withApp(cli *CLI, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// ChatCmd sends a message and streams the reply.
type ChatCmd struct {
	Message      string `arg:"" help:"Message to send"`
	Conversation string `short:"c" xor:"conversation" help:"Conversation id (default: a new conversation)"`
	Continue     bool   `short:"C" xor:"conversation" help:"Continue the last conversation"`
	System       string `help:"System prompt"`
	ModelFlags
}

func (c *ChatCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		providerID, modelID, err := c.resolve(a.cfg)
		if err != nil {
			return err
		}

		conversationID := c.Conversation
		if c.Continue && !a.db.Settings().Get(ctx, settingLastConversation, &conversationID) {
			return errors.New("no previous conversation")
		}
		var parentID string
		if conversationID == "" {
			conversationID = uuid.NewString()
		} else if page, err := a.threads.GetThread(ctx, conversationID, 1, 0); err == nil && page.Total > 0 {
			parentID = page.Messages[page.Total-1].ID
		}

		printer, err := newStreamPrinter(ctx, a.bus)
		if err != nil {
			return err
		}
		defer printer.Close()

		turn, err := a.chat.Send(ctx, chat.TurnRequest{
			ConversationID: conversationID,
			ProviderID:     providerID,
			ModelID:        modelID,
			Content:        c.Message,
			ParentID:       parentID,
			SystemPrompt:   c.System,
			Options:        c.options(a.cfg),
		})
		if err != nil {
			return err
		}

		if err := a.db.Settings().Set(ctx, settingLastConversation, conversationID); err != nil {
			a.logger.Warn("failed to remember conversation", config.ErrAttr(err))
		}
		if err := printer.follow(ctx, a, turn); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "\nconversation %s, message %s\n", conversationID, turn.SessionID)
		return nil
	})
}

// RetryCmd regenerates an assistant reply.
type RetryCmd struct {
	MessageID string `arg:"" help:"Assistant message id"`
	ModelFlags
}

func (c *RetryCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		providerID, modelID, err := c.resolve(a.cfg)
		if err != nil {
			return err
		}

		printer, err := newStreamPrinter(ctx, a.bus)
		if err != nil {
			return err
		}
		defer printer.Close()

		turn, err := a.chat.Retry(ctx, c.MessageID, chat.TurnRequest{
			ProviderID: providerID,
			ModelID:    modelID,
			Options:    c.options(a.cfg),
		})
		if err != nil {
			return err
		}
		if err := printer.follow(ctx, a, turn); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "\nvariant %s\n", turn.SessionID)
		return nil
	})
}

// streamPrinter writes a session's deltas to stdout as they arrive.
type streamPrinter struct {
	sub    events.Subscription
	events chan events.Event
}

func newStreamPrinter(ctx context.Context, bus *events.Bus) (*streamPrinter, error) {
	p := &streamPrinter{events: make(chan events.Event, 256)}
	sub, err := bus.Subscribe(ctx, func(ctx context.Context, e events.Event) {
		select {
		case p.events <- e:
		case <-ctx.Done():
		}
	}, events.StreamTopics...)
	if err != nil {
		return nil, err
	}
	p.sub = sub
	return p, nil
}

func (p *streamPrinter) Close() {
	p.sub.Unsubscribe()
}

// follow prints until the session's terminal event, stopping the session
// when ctx is cancelled, then waits for the reply to be stored.
func (p *streamPrinter) follow(ctx context.Context, a *app, turn *chat.Turn) error {
	interrupted := ctx.Done()
	inReasoning := false
	for {
		select {
		case <-interrupted:
			interrupted = nil
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.chat.Stop(stopCtx, turn.SessionID)
			cancel()
			if err != nil {
				return err
			}
		case e := <-p.events:
			switch ev := e.Payload.(type) {
			case events.StreamResponse:
				if ev.SessionID != turn.SessionID {
					continue
				}
				if ev.Reasoning != "" {
					inReasoning = true
					fmt.Fprint(os.Stderr, ev.Reasoning)
				}
				if ev.Content != "" {
					if inReasoning {
						fmt.Fprintln(os.Stderr)
						inReasoning = false
					}
					fmt.Print(ev.Content)
				}
			case events.StreamEnd:
				if ev.SessionID == turn.SessionID {
					return waitTurn(turn)
				}
			case events.StreamError:
				if ev.SessionID == turn.SessionID {
					if err := waitTurn(turn); err != nil {
						return err
					}
					return fmt.Errorf("generation failed: %s", ev.Error)
				}
			}
		}
	}
}

func waitTurn(turn *chat.Turn) error {
	select {
	case <-turn.Done():
		fmt.Println()
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("timed out saving the reply")
	}
}

// ModelsCmd lists enabled models.
type ModelsCmd struct {
	Refresh string `help:"Fetch the model list of this provider first"`
	Search  string `short:"s" help:"Fuzzy search query"`
}

func (c *ModelsCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		if c.Refresh != "" {
			models, err := a.catalog.RefreshModels(ctx, c.Refresh)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s: %d models\n", c.Refresh, len(models))
		}

		models, err := a.catalog.SearchModels(ctx, c.Search)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tMODEL\tNAME\tGROUP\tCONTEXT")
		for _, m := range models {
			custom := ""
			if m.IsCustom {
				custom = " (custom)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s%s\t%s\t%d\n", m.ProviderID, m.ID, m.Name, custom, m.Group, m.ContextLength)
		}
		return w.Flush()
	})
}

// StatusCmd enables or disables a model.
type StatusCmd struct {
	ProviderID string `arg:"" help:"Provider id"`
	ModelID    string `arg:"" help:"Model id"`
	Disable    bool   `help:"Disable the model instead of enabling it"`
}

func (c *StatusCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		return a.catalog.SetModelStatus(ctx, c.ProviderID, c.ModelID, !c.Disable)
	})
}

// CheckCmd probes providers.
type CheckCmd struct {
	ProviderIDs []string `arg:"" optional:"" help:"Provider ids (default: all enabled)"`
}

func (c *CheckCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		ids := c.ProviderIDs
		if len(ids) == 0 {
			for _, p := range a.reg.Enabled() {
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			return errors.New("no providers enabled")
		}

		failed := 0
		for _, id := range ids {
			result, err := a.streams.Check(ctx, id)
			switch {
			case err != nil:
				failed++
				fmt.Printf("%-12s error: %v\n", id, err)
			case !result.OK:
				failed++
				fmt.Printf("%-12s failed: %s\n", id, result.ErrorMessage)
			default:
				fmt.Printf("%-12s ok\n", id)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d providers failed", failed, len(ids))
		}
		return nil
	})
}

// HistoryCmd shows conversations or one conversation's messages.
type HistoryCmd struct {
	Conversation string `arg:"" optional:"" help:"Conversation id (default: list conversations)"`
	Format       string `short:"f" enum:"text,json,yaml" default:"text" help:"Output format (text, json, yaml)"`
	Page         int    `default:"1" help:"Page number"`
	PageSize     int    `default:"0" help:"Messages per page (0 for all)"`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		if c.Conversation == "" {
			convs, err := a.threads.Conversations(ctx)
			if err != nil {
				return err
			}
			return printConversations(convs, c.Format)
		}

		page, err := a.threads.GetThread(ctx, c.Conversation, c.Page, c.PageSize)
		if err != nil {
			return err
		}
		if page.Total == 0 {
			return fmt.Errorf("%w: conversation %s", model.ErrNotFound, c.Conversation)
		}
		return storage.WriteExport(os.Stdout, storage.NewExport(c.Conversation, "", page.Messages), c.Format)
	})
}

func printConversations(convs []model.ConversationSummary, format string) error {
	switch format {
	case storage.FormatYAML:
		return yaml.NewEncoder(os.Stdout).Encode(convs)
	case storage.FormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(convs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSATION\tMESSAGES\tUPDATED\tTITLE")
	for _, conv := range convs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", conv.ID, conv.MessageCount, conv.UpdatedAt.Format("2006-01-02 15:04"), storage.GenerateTitle(conv.FirstMessage))
	}
	return w.Flush()
}

// SearchCmd searches message content.
type SearchCmd struct {
	Query        string `arg:"" help:"Text to look for"`
	Conversation string `short:"c" help:"Limit the search to one conversation"`
	Limit        int    `default:"20" help:"Maximum results"`
}

func (c *SearchCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		found, err := a.threads.SearchMessages(ctx, c.Conversation, c.Query, c.Limit)
		if err != nil {
			return err
		}
		for _, m := range found {
			fmt.Printf("%s  %s  [%s] %s\n", m.ConversationID, m.ID, m.Role, storage.Preview(m.Content))
		}
		return nil
	})
}

// ExportCmd writes a conversation to a file.
type ExportCmd struct {
	Conversation string `arg:"" help:"Conversation id"`
	Format       string `short:"f" enum:"text,json,yaml" default:"json" help:"Output format (text, json, yaml)"`
	Output       string `short:"o" type:"path" help:"Output file (default: ~/Downloads/chatdesk-<title>-<time>)"`
	Title        string `help:"Title stored in the export"`
}

func (c *ExportCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		page, err := a.threads.GetThread(ctx, c.Conversation, 1, 0)
		if err != nil {
			return err
		}
		if page.Total == 0 {
			return fmt.Errorf("%w: conversation %s", model.ErrNotFound, c.Conversation)
		}

		export := storage.NewExport(c.Conversation, c.Title, page.Messages)
		path := c.Output
		if path == "" {
			path = storage.GenerateExportPath(export.Title, c.Format)
		}
		if err := storage.ExportToFile(export, path, c.Format); err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	})
}

// ClearCmd deletes a conversation's messages.
type ClearCmd struct {
	Conversation string `arg:"" help:"Conversation id"`
}

func (c *ClearCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		return a.threads.ClearConversation(ctx, c.Conversation)
	})
}

// TitleCmd asks a model for a conversation title.
type TitleCmd struct {
	Conversation string `arg:"" help:"Conversation id"`
	ModelFlags
}

func (c *TitleCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		providerID, modelID, err := c.resolve(a.cfg)
		if err != nil {
			return err
		}
		title, err := a.chat.Title(ctx, c.Conversation, providerID, modelID)
		if err != nil {
			return err
		}
		fmt.Println(title)
		return nil
	})
}

// ProvidersCmd lists the configured providers.
type ProvidersCmd struct{}

func (c *ProvidersCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		current, _ := a.reg.Current()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tENABLED\tBASE URL")
		for _, p := range a.reg.Providers() {
			name := p.Name
			if p.ID == current.ID || p.ID == a.cfg.DefaultProvider {
				name += " *"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, name, p.APIType, strconv.FormatBool(p.Enabled), p.BaseURL)
		}
		return w.Flush()
	})
}

// UseCmd remembers the default provider and model.
type UseCmd struct {
	ProviderID string `arg:"" help:"Provider id"`
	ModelID    string `arg:"" optional:"" help:"Model id"`
}

func (c *UseCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		if err := a.reg.SetCurrent(ctx, c.ProviderID); err != nil {
			return err
		}
		settings := a.db.Settings()
		if err := settings.Set(ctx, settingCurrentProvider, c.ProviderID); err != nil {
			return err
		}
		if c.ModelID == "" {
			return settings.Delete(ctx, settingCurrentModel)
		}
		return settings.Set(ctx, settingCurrentModel, c.ModelID)
	})
}

// CustomCmd groups the custom model commands.
type CustomCmd struct {
	Add    CustomAddCmd    `cmd:"" help:"Add a custom model"`
	Update CustomUpdateCmd `cmd:"" help:"Change a custom model"`
	Rm     CustomRmCmd     `cmd:"" help:"Remove a custom model"`
	List   CustomListCmd   `cmd:"" default:"withargs" help:"List custom models"`
}

type CustomAddCmd struct {
	ProviderID    string `arg:"" help:"Provider id"`
	ModelID       string `arg:"" help:"Model id"`
	Name          string `help:"Display name"`
	Group         string `help:"Group shown in model lists"`
	ContextLength int    `help:"Context window in tokens"`
	MaxTokens     int    `help:"Maximum output tokens"`
}

func (c *CustomAddCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		m, err := a.catalog.AddCustomModel(ctx, c.ProviderID, model.ModelMeta{
			ID:            c.ModelID,
			Name:          c.Name,
			Group:         c.Group,
			ContextLength: c.ContextLength,
			MaxTokens:     c.MaxTokens,
		})
		if err != nil {
			return err
		}
		fmt.Printf("added %s/%s\n", m.ProviderID, m.ID)
		return nil
	})
}

type CustomUpdateCmd struct {
	ProviderID    string  `arg:"" help:"Provider id"`
	ModelID       string  `arg:"" help:"Model id"`
	Name          *string `help:"Display name"`
	Group         *string `help:"Group shown in model lists"`
	ContextLength *int    `help:"Context window in tokens"`
	MaxTokens     *int    `help:"Maximum output tokens"`
}

func (c *CustomUpdateCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		_, err := a.catalog.UpdateCustomModel(ctx, c.ProviderID, c.ModelID, model.ModelUpdate{
			Name:          c.Name,
			Group:         c.Group,
			ContextLength: c.ContextLength,
			MaxTokens:     c.MaxTokens,
		})
		return err
	})
}

type CustomRmCmd struct {
	ProviderID string `arg:"" help:"Provider id"`
	ModelID    string `arg:"" help:"Model id"`
}

func (c *CustomRmCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		return a.catalog.RemoveCustomModel(ctx, c.ProviderID, c.ModelID)
	})
}

type CustomListCmd struct {
	ProviderID string `arg:"" optional:"" help:"Provider id (default: all providers)"`
}

func (c *CustomListCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		ids := []string{c.ProviderID}
		if c.ProviderID == "" {
			ids = ids[:0]
			for _, p := range a.reg.Providers() {
				ids = append(ids, p.ID)
			}
		}
		for _, id := range ids {
			models, err := a.catalog.CustomModels(id)
			if err != nil {
				if c.ProviderID != "" {
					return err
				}
				continue
			}
			for _, m := range models {
				fmt.Printf("%s/%s\t%s\n", m.ProviderID, m.ID, m.Name)
			}
		}
		return nil
	})
}

// EditCmd replaces a message's content.
type EditCmd struct {
	MessageID string `arg:"" help:"Message id"`
	Content   string `arg:"" help:"New content"`
}

func (c *EditCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		_, err := a.threads.EditMessage(ctx, c.MessageID, c.Content)
		return err
	})
}

// RmCmd deletes one message.
type RmCmd struct {
	MessageID string `arg:"" help:"Message id"`
}

func (c *RmCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		if _, err := a.threads.GetMessage(ctx, c.MessageID); err != nil {
			return err
		}
		return a.threads.DeleteMessage(ctx, c.MessageID)
	})
}

// SummarizeCmd summarizes stdin.
type SummarizeCmd struct {
	ModelFlags
}

func (c *SummarizeCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		providerID, modelID, err := c.resolve(a.cfg)
		if err != nil {
			return err
		}
		text, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		if strings.TrimSpace(string(text)) == "" {
			return errors.New("nothing to summarize")
		}
		summary, err := a.streams.GenerateSummary(ctx, providerID, modelID, string(text), c.options(a.cfg))
		if err != nil {
			return err
		}
		fmt.Println(summary)
		return nil
	})
}

// SuggestCmd prints follow-up questions for a conversation.
type SuggestCmd struct {
	Conversation string `arg:"" help:"Conversation id"`
	ModelFlags
}

func (c *SuggestCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		providerID, modelID, err := c.resolve(a.cfg)
		if err != nil {
			return err
		}
		history, err := a.threads.GetContextWindow(ctx, c.Conversation, a.cfg.ContextMessages)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return fmt.Errorf("%w: conversation %s", model.ErrNotFound, c.Conversation)
		}

		var b strings.Builder
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		suggestions, err := a.streams.GenerateSuggestions(ctx, providerID, modelID, b.String(), c.options(a.cfg))
		if err != nil {
			return err
		}
		for _, s := range suggestions {
			fmt.Println(s)
		}
		return nil
	})
}

// InitCmd writes the system and user config files when they are missing.
type InitCmd struct{}

func (c *InitCmd) Run(cli *CLI) error {
	if err := config.CreateDefaultSystemConfig(); err != nil {
		return err
	}
	system, err := config.LoadSystemConfig()
	if err != nil {
		return err
	}
	dataDir := config.ExpandPath(system.DataDirectory)
	if _, err := config.LoadUserConfig(dataDir); err != nil {
		return err
	}
	fmt.Println(config.GetSettingsFilePath())
	fmt.Println(config.GetUserConfigPath(dataDir))
	return nil
}
