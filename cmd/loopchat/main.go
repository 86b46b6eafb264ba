// ABOUTME: Entry point for the loopchat end-user console
// ABOUTME: Wires config, auth, the HTTP session store, and the session controller into a REPL

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/quorali/loopchat/internal/auth"
	"github.com/quorali/loopchat/internal/config"
	"github.com/quorali/loopchat/internal/registry"
	"github.com/quorali/loopchat/internal/session"
	"github.com/quorali/loopchat/internal/store"
	"github.com/quorali/loopchat/internal/stream"
)

// Version is set at build time.
var version = "dev"

// getConfigPath returns the path to the loopchat config file.
// Priority: LOOPCHAT_CONFIG env var > XDG_CONFIG_HOME/loopchat/config.yaml > ~/.config/loopchat/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOOPCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "loopchat", "config.yaml")
}

// loadConfig loads the config file, falling back to defaults when absent
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// setupLogging configures slog from the logging section
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// resolvePrincipal verifies the configured token, or falls back to the
// LOOPCHAT_USER env var for local development.
func resolvePrincipal(cfg *config.Config) (auth.Principal, error) {
	if cfg.Auth.Token != "" && cfg.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		return verifier.Verify(cfg.Auth.Token)
	}
	if user := os.Getenv("LOOPCHAT_USER"); user != "" {
		return auth.Principal{ID: user, Role: auth.RoleUser}, nil
	}
	return auth.Principal{}, fmt.Errorf("no principal: set auth.token in config or LOOPCHAT_USER")
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogging(cfg.Logging)

	principal, err := resolvePrincipal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auth error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessionStore := store.NewHTTPStore(cfg.Store.APIURL, logger)
	reg := registry.New(sessionStore, logger)
	consumer := stream.NewConsumer(sessionStore, cfg.Store.AssistantID, logger)
	defer consumer.Close()

	controller := session.NewController(sessionStore, reg, consumer, principal, logger)
	if err := controller.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "session init failed: %v\n", err)
		os.Exit(1)
	}

	if err := repl(ctx, controller, principal); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func repl(ctx context.Context, c *session.Controller, principal auth.Principal) error {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	bold.Printf("loopchat %s", version)
	fmt.Printf(" | signed in as %s\n", principal.ID)
	dim.Println("commands: /new /threads /switch N /delete N /stop /quit")

	// Cached listing so /switch and /delete can address threads by number
	var listing []*store.Thread

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return nil
		}
		printPrompt(c)
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue

		case line == "/quit" || line == "/q":
			return nil

		case line == "/new":
			if err := c.NewChat(ctx); err != nil {
				color.Red("new chat failed: %v", err)
			}

		case line == "/threads":
			threads, err := c.Threads(ctx)
			if err != nil {
				color.Yellow("thread list unavailable right now")
			}
			listing = threads
			printThreads(threads, c.ActiveThread())

		case strings.HasPrefix(line, "/switch "):
			t, ok := pickThread(listing, strings.TrimPrefix(line, "/switch "))
			if !ok {
				color.Red("usage: /switch N (run /threads first)")
				continue
			}
			if err := c.SelectThread(ctx, t.ID); err != nil {
				color.Red("switch failed: %v", err)
				continue
			}
			printTranscript(c.Transcript())

		case strings.HasPrefix(line, "/delete "):
			t, ok := pickThread(listing, strings.TrimPrefix(line, "/delete "))
			if !ok {
				color.Red("usage: /delete N (run /threads first)")
				continue
			}
			if err := c.DeleteThread(ctx, t.ID); err != nil {
				color.Red("delete failed: %v", err)
			}
			listing = nil

		case line == "/stop":
			c.StopGeneration()

		default:
			if err := c.SubmitMessage(ctx, line); err != nil {
				color.Red("%v", err)
				continue
			}
			streamReply(ctx, c)
		}
	}
}

// printPrompt shows the active thread and blocks input while interrupted
func printPrompt(c *session.Controller) {
	if notice := c.InterruptNotice(); notice != "" {
		color.Yellow("⏸ waiting for human intervention: %s", notice)
	}
	title := "new conversation"
	if t := c.ActiveThread(); t != nil && t.Title != "" {
		title = t.Title
	}
	color.New(color.FgCyan).Printf("[%s] > ", title)
}

// streamReply renders the live assistant turn as cumulative updates arrive
func streamReply(ctx context.Context, c *session.Controller) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, _ := c.Subscribe(subCtx)

	printed := 0
	for {
		tr := c.Transcript()
		if len(tr) > 0 {
			last := tr[len(tr)-1]
			if last.Role == store.RoleAssistant && len(last.Content) > printed {
				fmt.Print(last.Content[printed:])
				printed = len(last.Content)
			}
		}

		switch c.Status() {
		case stream.StatusStreaming:
			select {
			case <-updates:
			case <-ctx.Done():
				return
			}
		case stream.StatusInterrupted:
			fmt.Println()
			color.Yellow("⏸ %s", c.InterruptNotice())
			return
		default:
			fmt.Println()
			return
		}
	}
}

func printTranscript(msgs []store.Message) {
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			color.New(color.FgGreen).Printf("you: ")
		} else {
			color.New(color.FgBlue).Printf("agent: ")
		}
		fmt.Println(m.Content)
	}
}

func printThreads(threads []*store.Thread, active *store.Thread) {
	if len(threads) == 0 {
		fmt.Println("no chats yet")
		return
	}
	for i, t := range threads {
		marker := "  "
		if active != nil && t.ID == active.ID {
			marker = "* "
		}
		title := t.Title
		if title == "" {
			title = "New conversation"
		}
		status := ""
		if t.Status == store.ThreadStatusInterrupted {
			status = " [waiting]"
		}
		fmt.Printf("%s%2d. %s%s  %s\n", marker, i+1, title, status, formatRelativeTime(t.UpdatedAt))
	}
}

func pickThread(listing []*store.Thread, arg string) (*store.Thread, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > len(listing) {
		return nil, false
	}
	return listing[n-1], true
}

// formatRelativeTime renders a timestamp the way the thread sidebar does
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "Yesterday"
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
