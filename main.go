// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// localface is a terminal chat client for a local Ollama server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"golang.org/x/time/rate"

	"github.com/jeranaias/localface/internal/chat"
	"github.com/jeranaias/localface/internal/config"
	"github.com/jeranaias/localface/internal/model"
	"github.com/jeranaias/localface/internal/ollama"
	"github.com/jeranaias/localface/internal/storage"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		// An invalid endpoint URL is fatal; nothing downstream can recover
		return err
	}
	config.SetGlobal(cfg)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Endpoint.BaseURL,
		ProbeTimeout: time.Duration(cfg.Endpoint.ProbeTimeoutSecs) * time.Second,
	})

	session := chat.NewSession(client, cfg.Chat.Model, cfg.Chat.WelcomeMessage)
	store := storage.NewStore(cfg.Storage.Dir, cfg.Storage.MaxConversations)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Live-reload model selection when the config file changes
	if watcher, err := config.NewWatcher(config.TOMLPath(), func(next *config.Config) {
		if next.Chat.Model != "" {
			session.SetModel(next.Chat.Model)
		}
	}); err == nil {
		go watcher.Start(ctx)
	}

	if err := session.CheckConnection(ctx); err != nil {
		if ollama.IsConnectionFailed(err) {
			fmt.Println(errorStyle.Render("Cannot reach Ollama at " + cfg.Endpoint.BaseURL))
			fmt.Println(dimStyle.Render("Start it with: ollama serve"))
		} else {
			fmt.Println(errorStyle.Render("Connection check failed: " + err.Error()))
		}
	} else if session.Model() == "" {
		// No model configured; default to the first installed one
		if names, err := client.ListModels(ctx); err == nil && len(names) > 0 {
			session.SetModel(names[0])
			fmt.Println(dimStyle.Render("Using model " + names[0]))
		}
	}

	turnDone := make(chan struct{}, 1)
	session.Subscribe(func(ev chat.Event) {
		switch ev.Kind {
		case chat.EventDelta:
			fmt.Print(ev.Delta)
		case chat.EventCompleted, chat.EventFailed:
			fmt.Println()
			select {
			case turnDone <- struct{}{}:
			default:
			}
		}
	})

	for _, view := range session.Messages() {
		printMessage(view)
	}

	return repl(ctx, session, client, store, turnDone)
}

// =============================================================================
// REPL
// =============================================================================

func repl(ctx context.Context, session *chat.Session, client *ollama.Client, store *storage.Store, turnDone <-chan struct{}) error {
	rl := liner.NewLiner()
	defer rl.Close()
	rl.SetCtrlCAborts(true)

	historyPath := filepath.Join(config.Dir(), "history")
	if f, err := os.Open(historyPath); err == nil {
		rl.ReadHistory(f)
		f.Close()
	}
	defer func() {
		os.MkdirAll(config.Dir(), 0o755)
		if f, err := os.Create(historyPath); err == nil {
			rl.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := rl.Prompt(promptStyle.Render("you> "))
		if err == liner.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		rl.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := command(ctx, session, client, store, input, turnDone); quit {
				return nil
			}
			continue
		}

		sendTurn(ctx, session, input, turnDone)
	}
}

// sendTurn submits one user message and blocks until the response turn
// finishes. Ctrl-C during generation cancels the request.
func sendTurn(ctx context.Context, session *chat.Session, text string, turnDone <-chan struct{}) {
	// Print the prompt before the stream starts so a fast first delta
	// cannot land ahead of it
	fmt.Print(promptStyle.Render(session.Model() + "> "))

	if err := session.Send(ctx, text); err != nil {
		fmt.Print("\r\033[K")
		fmt.Println(errorStyle.Render(sendErrorText(err)))
		return
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	select {
	case <-turnDone:
		if msg := session.LastError(); msg != "" {
			fmt.Println(errorStyle.Render(msg))
			fmt.Println(dimStyle.Render("Type /retry to try again."))
			session.DismissError()
		}
	case <-interrupt:
		session.Cancel()
		fmt.Println()
		fmt.Println(dimStyle.Render("(cancelled)"))
	}
}

func sendErrorText(err error) string {
	switch err {
	case chat.ErrEmptyMessage:
		return "Nothing to send."
	case chat.ErrBusy:
		return "A response is still in progress."
	case chat.ErrNoModel:
		return "No model selected. Pull one with /pull <name>."
	case chat.ErrNotConnected:
		return "Not connected. Is Ollama running?"
	}
	return err.Error()
}

// =============================================================================
// COMMANDS
// =============================================================================

func command(ctx context.Context, session *chat.Session, client *ollama.Client, store *storage.Store, input string, turnDone <-chan struct{}) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		printHelp()

	case "/models":
		listModels(ctx, client, session.Model())

	case "/model":
		if len(args) == 0 {
			fmt.Println("current model: " + session.Model())
			break
		}
		session.SetModel(args[0])
		fmt.Println(infoStyle.Render("Model set to " + args[0]))

	case "/pull":
		if len(args) == 0 {
			fmt.Println(errorStyle.Render("usage: /pull <model>"))
			break
		}
		pullModel(ctx, client, args[0])

	case "/delete":
		if len(args) == 0 {
			fmt.Println(errorStyle.Render("usage: /delete <model>"))
			break
		}
		if err := client.Delete(ctx, args[0]); err != nil {
			fmt.Println(errorStyle.Render("delete failed: " + err.Error()))
		} else {
			fmt.Println(infoStyle.Render("Deleted " + args[0]))
		}

	case "/retry":
		fmt.Print(promptStyle.Render(session.Model() + "> "))
		if err := session.Retry(ctx); err != nil {
			fmt.Print("\r\033[K")
			fmt.Println(errorStyle.Render(retryErrorText(err)))
			break
		}
		waitRetry(session, turnDone)

	case "/clear":
		session.Clear()
		fmt.Println(infoStyle.Render("Conversation cleared."))
		for _, view := range session.Messages() {
			printMessage(view)
		}

	case "/save":
		conv := session.ExportConversation()
		if err := store.Save(conv, session.Model()); err != nil {
			fmt.Println(errorStyle.Render("save failed: " + err.Error()))
		} else {
			fmt.Println(infoStyle.Render("Saved conversation " + conv.ID))
		}

	case "/list":
		listConversations(store)

	case "/load":
		if len(args) == 0 {
			fmt.Println(errorStyle.Render("usage: /load <id>"))
			break
		}
		loadConversation(session, store, args[0])

	default:
		fmt.Println(errorStyle.Render("unknown command " + cmd + " (try /help)"))
	}
	return false
}

func retryErrorText(err error) string {
	if err == chat.ErrNothingToRetry {
		return "Nothing to retry."
	}
	return sendErrorText(err)
}

// waitRetry blocks until the re-sent turn finishes, like sendTurn but
// without submitting new text.
func waitRetry(session *chat.Session, turnDone <-chan struct{}) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	select {
	case <-turnDone:
		if msg := session.LastError(); msg != "" {
			fmt.Println(errorStyle.Render(msg))
			session.DismissError()
		}
	case <-interrupt:
		session.Cancel()
		fmt.Println()
		fmt.Println(dimStyle.Render("(cancelled)"))
	}
}

func listModels(ctx context.Context, client *ollama.Client, current string) {
	tags, err := client.ListTags(ctx)
	if err != nil {
		fmt.Println(errorStyle.Render("cannot list models: " + err.Error()))
		return
	}
	if len(tags) == 0 {
		fmt.Println(dimStyle.Render("No models installed. Pull one with /pull <name>."))
		return
	}
	for _, tag := range tags {
		marker := "  "
		if tag.Name == current {
			marker = "* "
		}
		fmt.Printf("%s%-40s %s\n", marker, tag.Name, dimStyle.Render(tag.FormatSize()))
	}
}

func pullModel(ctx context.Context, client *ollama.Client, name string) {
	// Throttle redraws; pull streams can emit thousands of status lines
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 1)

	err := client.Pull(ctx, name, func(status ollama.PullStatus) {
		if !status.Terminal() && !limiter.Allow() {
			return
		}
		if frac, known := status.ProgressFraction(); known {
			fmt.Printf("\r\033[K%s %3.0f%%", status.Status, frac*100)
		} else {
			fmt.Printf("\r\033[K%s", status.Status)
		}
	})
	fmt.Println()
	if err != nil {
		fmt.Println(errorStyle.Render("pull failed: " + err.Error()))
		return
	}
	fmt.Println(infoStyle.Render("Pulled " + name))
}

func listConversations(store *storage.Store) {
	metas, err := store.List()
	if err != nil {
		fmt.Println(errorStyle.Render("cannot list conversations: " + err.Error()))
		return
	}
	if len(metas) == 0 {
		fmt.Println(dimStyle.Render("No saved conversations."))
		return
	}
	for _, meta := range metas {
		fmt.Printf("%s  %s  %s\n",
			dimStyle.Render(meta.ID[:8]),
			meta.UpdatedAt.Format("2006-01-02 15:04"),
			meta.Title)
	}
}

func loadConversation(session *chat.Session, store *storage.Store, prefix string) {
	metas, err := store.List()
	if err != nil {
		fmt.Println(errorStyle.Render("load failed: " + err.Error()))
		return
	}

	id := ""
	for _, meta := range metas {
		if strings.HasPrefix(meta.ID, prefix) {
			id = meta.ID
			break
		}
	}
	if id == "" {
		fmt.Println(errorStyle.Render("no conversation matching " + prefix))
		return
	}

	conv, err := store.Load(id)
	if err != nil {
		fmt.Println(errorStyle.Render("load failed: " + err.Error()))
		return
	}
	if err := session.ReplaceConversation(conv); err != nil {
		fmt.Println(errorStyle.Render("load failed: " + err.Error()))
		return
	}
	for _, view := range session.Messages() {
		printMessage(view)
	}
}

// =============================================================================
// RENDERING
// =============================================================================

func printMessage(view chat.MessageView) {
	switch view.Role {
	case model.RoleUser:
		fmt.Println(promptStyle.Render("you> ") + view.Text)
	case model.RoleAssistant:
		if view.State == model.StateFailed {
			fmt.Println(errorStyle.Render(view.Text))
			return
		}
		fmt.Println(view.Text)
	}
}

func printHelp() {
	fmt.Print(dimStyle.Render(`commands:
  /models          list installed models
  /model [name]    show or set the active model
  /pull <name>     download a model
  /delete <name>   remove a model
  /retry           retry after a failed response
  /clear           reset the conversation
  /save            save the conversation
  /list            list saved conversations
  /load <id>       load a saved conversation
  /quit            exit
`))
}
