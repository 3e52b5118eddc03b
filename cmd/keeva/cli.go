package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/bus"
	"github.com/keeva-ai/keeva/pkg/channels"
	"github.com/keeva-ai/keeva/pkg/config"
	"github.com/keeva-ai/keeva/pkg/engine"
	"github.com/keeva-ai/keeva/pkg/memory"
	"github.com/keeva-ai/keeva/pkg/providers"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Conversational companion with durable memory and a Discord gateway",
		Long: strings.TrimSpace(`keeva is a conversational companion runtime.

It tracks where each conversation is, remembers what matters about the person,
and carries that memory into every reply. Run it locally with 'keeva chat' or
as a Discord gateway with 'keeva gateway'.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newChatCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func configPath() string {
	if p := os.Getenv("KEEVA_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "keeva.json"
	}
	return filepath.Join(home, ".keeva", "config.json")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// bootstrap loads config and assembles the engine over the workspace SQLite
// store.
func bootstrap(debug bool) (*config.Config, *engine.Engine, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if debug {
		cfg.Companion.DebugTrace = true
	}

	log, err := newLogger(debug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building logger: %w", err)
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("creating workspace: %w", err)
	}
	store, err := memory.NewSQLiteStore(filepath.Join(workspace, "keeva.db"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening memory store: %w", err)
	}

	provider := providers.NewHTTPProvider(cfg.Provider, cfg.Companion.Model)
	eng := engine.New(cfg, store, provider, log)
	return cfg, eng, log, nil
}

func newChatCommand() *cobra.Command {
	var debug bool
	var conversation string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the companion in a local REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, log, err := bootstrap(debug)
			if err != nil {
				return err
			}
			defer eng.Close()
			defer log.Sync()

			eng.StartMaintenance()
			return chatLoop(eng, conversation)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging and directive traces")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "cli:default", "Conversation id to resume")
	return cmd
}

func chatLoop(eng *engine.Engine, conversationID string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".keeva_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%s interactive chat (Ctrl+C or 'exit' to leave)\n\n", appName)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nTake care.")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Take care.")
			return nil
		}

		reply, err := eng.HandleTurn(context.Background(), engine.Turn{
			ConversationID: conversationID,
			Content:        input,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s> %s\n\n", appName, reply.Content)
	}
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the Discord gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, log, err := bootstrap(debug)
			if err != nil {
				return err
			}
			defer eng.Close()
			defer log.Sync()

			if cfg.Channels.Discord.Token == "" {
				return fmt.Errorf("discord token not configured (KEEVA_CHANNELS_DISCORD_TOKEN)")
			}

			turnBus := bus.NewTurnBus()
			defer turnBus.Close()

			manager := channels.NewManager(turnBus, log)
			discord, err := channels.NewDiscord(cfg.Channels.Discord, turnBus, log)
			if err != nil {
				return err
			}
			manager.Register(discord)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := manager.StartAll(ctx); err != nil {
				return err
			}
			defer manager.StopAll(context.Background())

			eng.StartMaintenance()
			go manager.DispatchOutbound(ctx)
			go eng.Serve(ctx, turnBus)

			fmt.Println("Gateway running. Press Ctrl+C to stop.")
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan

			fmt.Println("\nShutting down...")
			cancel()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging and directive traces")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}

			fmt.Printf("%s status\n", appName)
			fmt.Printf("Version: %s\n\n", formatVersion())

			path := configPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Println("Config:", path, "(found)")
			} else {
				fmt.Println("Config:", path, "(defaults in use)")
			}

			workspace := cfg.WorkspacePath()
			if _, err := os.Stat(workspace); err == nil {
				fmt.Println("Workspace:", workspace, "(ready)")
			} else {
				fmt.Println("Workspace:", workspace, "(will be created on first run)")
			}

			fmt.Println("Model:", cfg.Companion.Model)
			if cfg.Channels.Discord.Token != "" {
				fmt.Println("Discord: configured")
			} else {
				fmt.Println("Discord: not configured")
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
