// Package cli is the terminal client. It drives the same editing core as the
// API server in-process and keeps its session in a local JSON cache.
package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"picprompter/internal/auth"
	"picprompter/internal/bootstrap"
	"picprompter/internal/editor"
	"picprompter/internal/infra"
	"picprompter/internal/kvcache"
)

// Cache keys owned by the terminal client.
const (
	keySession       = "session"
	keySessionSecret = "sessionSecret"
)

// EditorFactory builds the orchestrator for generate and edit commands.
type EditorFactory func(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*editor.Orchestrator, error)

// Options lets tests and embedders replace the outside world.
type Options struct {
	Out        io.Writer
	Err        io.Writer
	LoadConfig func() (*infra.Config, error)
	NewEditor  EditorFactory
}

type runtime struct {
	opts      Options
	statePath string
	verbose   bool
	logger    *infra.Logger
	kv        kvcache.Store
	gate      *auth.Gate
}

// NewRootCmd assembles the command tree.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = infra.LoadConfig
	}
	if opts.NewEditor == nil {
		opts.NewEditor = func(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*editor.Orchestrator, error) {
			core, err := bootstrap.NewCore(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return core.Editor, nil
		}
	}
	rt := &runtime{opts: opts}

	root := &cobra.Command{
		Use:   "picprompter",
		Short: "Generate and iteratively edit interior design images",
		Long: `picprompter renders interior designs from text prompts and refines them
with follow-up edits. Every edit is kept as a version.

Examples:
  picprompter login --email me@example.com --password secret
  picprompter generate --prompt "Scandinavian living room with oak floors"
  picprompter edit --prompt "add a large plant" --prompt "warmer evening light"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init()
		},
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)
	root.PersistentFlags().StringVar(&rt.statePath, "state", os.Getenv("PICPROMPTER_STATE"), "path of the local state file (default is the user config dir)")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "log diagnostics to stderr")

	root.AddCommand(
		newLoginCmd(rt),
		newRegisterCmd(rt),
		newLogoutCmd(rt),
		newWhoamiCmd(rt),
		newUploadCmd(rt),
		newGenerateCmd(rt),
		newEditCmd(rt),
	)
	return root
}

// Execute runs the client and returns the process exit code.
func Execute() int {
	_ = godotenv.Load()
	root := NewRootCmd(Options{})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (rt *runtime) init() error {
	logger := infra.NewConsoleLogger(rt.opts.Err, rt.verbose)
	rt.logger = &logger

	path := rt.statePath
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate config dir: %w", err)
		}
		path = filepath.Join(dir, "picprompter", "state.json")
	}
	kv, err := kvcache.NewFile(path)
	if err != nil {
		return err
	}
	rt.kv = kv

	secret, err := rt.sessionSecret()
	if err != nil {
		return err
	}
	signer, err := auth.NewSigner(secret, 30*24*time.Hour)
	if err != nil {
		return err
	}
	rt.gate = auth.NewGate(auth.NewMockProvider(kv, signer, auth.WithLogger(rt.logger)))
	rt.logger.Debug().Str("state", path).Msg("cli: ready")
	return nil
}

// sessionSecret prefers SESSION_SECRET and otherwise keeps a per-install
// random secret in the state file.
func (rt *runtime) sessionSecret() (string, error) {
	if s := os.Getenv("SESSION_SECRET"); s != "" {
		return s, nil
	}
	ctx := context.Background()
	secret, err := rt.kv.Get(ctx, keySessionSecret)
	if err == nil && secret != "" {
		return secret, nil
	}
	if err != nil && !errors.Is(err, kvcache.ErrNotFound) {
		return "", err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret = hex.EncodeToString(buf)
	return secret, rt.kv.Set(ctx, keySessionSecret, secret)
}

// requireAuth runs intent through the gate with the cached session token.
func (rt *runtime) requireAuth(ctx context.Context, intent auth.Intent) (auth.Outcome, error) {
	token, err := rt.kv.Get(ctx, keySession)
	if err != nil && !errors.Is(err, kvcache.ErrNotFound) {
		return auth.Outcome{}, err
	}
	out := rt.gate.RequireAuth(ctx, token, intent)
	if !out.Allowed {
		target := ""
		if intent.Target != "" {
			target = fmt.Sprintf(" %q", intent.Target)
		}
		return out, fmt.Errorf("sign in required to %s%s: run `picprompter login`", intent.Action, target)
	}
	return out, nil
}

// newEditor loads the full configuration, which needs the generation key.
func (rt *runtime) newEditor(ctx context.Context) (*editor.Orchestrator, error) {
	cfg, err := rt.opts.LoadConfig()
	if err != nil {
		return nil, err
	}
	return rt.opts.NewEditor(ctx, cfg, rt.logger)
}
