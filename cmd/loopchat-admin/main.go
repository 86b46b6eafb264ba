// ABOUTME: Entry point for the loopchat operator console
// ABOUTME: Lists interrupted threads across all owners and delivers resolve/continue decisions

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

	"github.com/fatih/color"

	"github.com/quorali/loopchat/internal/auth"
	"github.com/quorali/loopchat/internal/config"
	"github.com/quorali/loopchat/internal/interrupt"
	"github.com/quorali/loopchat/internal/store"
)

var version = "dev"

func getConfigPath() string {
	if envPath := os.Getenv("LOOPCHAT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "loopchat", "config.yaml")
}

func main() {
	cfgPath := getConfigPath()
	cfg := config.Default()
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	principal, err := resolvePrincipal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auth error: %v\n", err)
		os.Exit(1)
	}
	if !principal.IsOperator() {
		fmt.Fprintln(os.Stderr, "operator console requires the admin role")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessionStore := store.NewHTTPStore(cfg.Store.APIURL, logger)
	coordinator := interrupt.NewCoordinator(sessionStore, cfg.Store.AssistantID, cfg.Operator.PollInterval, logger)
	go coordinator.Run(ctx)

	if err := repl(ctx, coordinator); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolvePrincipal(cfg *config.Config) (auth.Principal, error) {
	if cfg.Auth.Token != "" && cfg.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		return verifier.Verify(cfg.Auth.Token)
	}
	if user := os.Getenv("LOOPCHAT_ADMIN"); user != "" {
		return auth.Principal{ID: user, Role: auth.RoleAdmin}, nil
	}
	return auth.Principal{}, fmt.Errorf("no principal: set auth.token in config or LOOPCHAT_ADMIN")
}

func repl(ctx context.Context, c *interrupt.Coordinator) error {
	color.New(color.Bold).Printf("loopchat-admin %s", version)
	fmt.Println(" | human-in-the-loop console")
	color.New(color.Faint).Println("commands: list refresh resolve N [text] continue N [text] quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return nil
		}

		pending := c.Pending()
		color.New(color.FgYellow).Printf("pending: %d", len(pending))
		fmt.Print(" > ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "q":
			return nil

		case "list", "ls":
			printPending(pending)

		case "refresh":
			if err := c.Refresh(ctx); err != nil {
				color.Red("refresh failed: %v", err)
				continue
			}
			printPending(c.Pending())

		case "resolve", "continue":
			if len(fields) < 2 {
				color.Red("usage: %s N [response text]", fields[0])
				continue
			}
			t, ok := pickPending(pending, fields[1])
			if !ok {
				color.Red("no pending interrupt %q (try list)", fields[1])
				continue
			}
			response := strings.Join(fields[2:], " ")
			var err error
			if fields[0] == "resolve" {
				err = c.Resolve(ctx, t.ID, response)
			} else {
				err = c.Continue(ctx, t.ID, response)
			}
			if err != nil {
				// The thread stays listed; a swallowed failure would leave
				// the user stuck.
				color.Red("failed to send response: %v", err)
				continue
			}
			color.Green("thread %s resumed", t.ID)

		default:
			color.Red("unknown command %q", fields[0])
		}
	}
}

func printPending(pending []*store.Thread) {
	if len(pending) == 0 {
		fmt.Println("all clear, no pending approvals")
		return
	}
	for i, t := range pending {
		title := t.Title
		if title == "" {
			title = "New conversation"
		}
		fmt.Printf("%2d. %s  owner=%s  since=%s\n", i+1, title, t.OwnerID, t.UpdatedAt.Format("15:04:05"))
	}
}

func pickPending(pending []*store.Thread, arg string) (*store.Thread, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(pending) {
		return nil, false
	}
	return pending[n-1], true
}
