package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	apix "github.com/tanpawarit/Agent-Before-Ambulance/agent/api"
	configx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/config"
	logx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "aba",
		Short:         "Agent Before Ambulance: an emergency-response conversational assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configx.SetEnvFile(envFile)
			logCfg, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return fmt.Errorf("load log config: %w", err)
			}
			logx.Init(*logCfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "path to .env file")

	root.AddCommand(newServeCmd(), newChatCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, verify)
			if err != nil {
				return err
			}
			defer a.Close()

			httpCfg, err := configx.New[apix.Config]("HTTP")
			if err != nil {
				return fmt.Errorf("load http config: %w", err)
			}
			srv := apix.NewServer(a.supervisor, *httpCfg, a.metrics, a.registry)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify-model", false, "check the OpenRouter key and model before serving")
	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := buildApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			return chatLoop(ctx, a.supervisor, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

type messageHandler interface {
	NewSession(ctx context.Context) (string, error)
	HandleMessage(ctx context.Context, sessionID string, text string) (string, error)
}

// chatLoop reads one message per line until EOF or "exit".
func chatLoop(ctx context.Context, h messageHandler, in io.Reader, out io.Writer) error {
	sessionID, err := h.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	log.Debug().Str("session_id", sessionID).Msg("chat session started")
	fmt.Fprintln(out, "Describe the emergency. Type 'exit' to quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.EqualFold(text, "exit") || strings.EqualFold(text, "quit") {
			return nil
		}

		reply, err := h.HandleMessage(ctx, sessionID, text)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
}
