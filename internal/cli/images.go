package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"picprompter/internal/auth"
	"picprompter/internal/domain"
	"picprompter/internal/editor"
	"picprompter/internal/kvcache"
	"picprompter/internal/media"
	"picprompter/pkg/zip"
)

func newUploadCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Use a local image as the starting point for edits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := rt.requireAuth(ctx, auth.Intent{Action: "upload", Target: args[0]}); err != nil {
				return err
			}
			ref, info, err := readImage(args[0])
			if err != nil {
				return err
			}
			if err := rt.kv.Set(ctx, kvcache.KeyEditImage, ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s (%s, %dx%d). Run `picprompter edit` next.\n",
				filepath.Base(args[0]), info.MIMEType, info.Width, info.Height)
			return nil
		},
	}
}

func newGenerateCmd(rt *runtime) *cobra.Command {
	var prompt, reference, output string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render a new design from a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if strings.TrimSpace(prompt) == "" {
				return errors.New("--prompt is required")
			}
			if _, err := rt.requireAuth(ctx, auth.Intent{Action: "generate", Target: prompt}); err != nil {
				return err
			}
			ref := reference
			if ref != "" && !media.IsRemoteURL(ref) && !media.IsDataURI(ref) {
				var err error
				if ref, _, err = readImage(ref); err != nil {
					return err
				}
			}
			orch, err := rt.newEditor(ctx)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			fmt.Fprintln(cmd.ErrOrStderr(), "Generating...")
			image, err := orch.Render(ctx, domain.GenerationRequest{Prompt: prompt, ReferenceImage: ref})
			if err != nil {
				return describe(err)
			}
			if err := rt.kv.Set(ctx, kvcache.KeyEditImage, image); err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), image, output)
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "description of the room (required)")
	cmd.Flags().StringVar(&reference, "reference", "", "reference image file or URL")
	cmd.Flags().StringVarP(&output, "output", "o", "design.png", "where to save an inline result")
	return cmd
}

func newEditCmd(rt *runtime) *cobra.Command {
	var prompts []string
	var outputDir, archive string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Apply one or more edits to the current design",
		Long: `edit opens a session on the cached design (from upload or generate) and
applies each --prompt in order. Failed edits are reported and leave the
history unchanged. Ctrl-C cancels the edit in flight.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(prompts) == 0 {
				return errors.New("at least one --prompt is required")
			}
			outcome, err := rt.requireAuth(ctx, auth.Intent{Action: "edit", Target: prompts[0]})
			if err != nil {
				return err
			}
			seed, err := rt.kv.Get(ctx, kvcache.KeyEditImage)
			if errors.Is(err, kvcache.ErrNotFound) {
				return errors.New("no image to edit: run `picprompter upload` or `picprompter generate` first")
			}
			if err != nil {
				return err
			}
			orch, err := rt.newEditor(ctx)
			if err != nil {
				return err
			}

			session := editor.NewSession(uuid.NewString(), outcome.User.ID, systemLocale())
			if _, err := orch.Seed(session, seed); err != nil {
				return err
			}
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt)
			defer signal.Stop(sigs)
			ctx, stop := withInterrupt(ctx, sigs, func() { orch.Cancel(session) })
			defer stop()

			out := cmd.OutOrStdout()
			for _, p := range prompts {
				fmt.Fprintf(cmd.ErrOrStderr(), "Editing: %s\n", p)
				_, err := orch.Edit(ctx, session, p)
				switch {
				case errors.Is(err, domain.ErrCanceled):
					fmt.Fprintln(out, "Canceled.")
				case err != nil:
					fmt.Fprintf(out, "Edit failed: %v\n", describe(err))
				}
				if ctx.Err() != nil {
					break
				}
			}
			printHistory(out, session.State())

			if cur, ok := session.History.Current(); ok {
				if err := rt.kv.Set(context.Background(), kvcache.KeyEditImage, cur.ImageRef); err != nil {
					return err
				}
				if outputDir != "" {
					if err := writeResult(out, cur.ImageRef, filepath.Join(outputDir, "design-latest.png")); err != nil {
						return err
					}
				}
			}
			if archive != "" {
				return writeArchive(context.Background(), out, session.History.Versions(), archive)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&prompts, "prompt", "p", nil, "edit instruction; repeat to apply several in order")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "save the final version into this directory")
	cmd.Flags().StringVar(&archive, "archive", "", "write every version into this zip file")
	return cmd
}

func printHistory(w io.Writer, st editor.State) {
	fmt.Fprintln(w, "History:")
	for i, v := range st.Versions {
		marker := " "
		if i == st.Cursor {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %2d  %-8s %s\n", marker, i, v.Timestamp, v.Description)
	}
}

// describe turns a generation failure into the message shown to users.
func describe(err error) error {
	var failure *domain.GenerationFailure
	if !errors.As(err, &failure) {
		return err
	}
	switch failure.Kind {
	case domain.FailureBlockedPrompt:
		return fmt.Errorf("the request was blocked: %s", failure.Message)
	case domain.FailureTransportError:
		return fmt.Errorf("could not reach the image service: %s", failure.Message)
	default:
		return errors.New(failure.Message)
	}
}

func readImage(path string) (string, media.UploadInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", media.UploadInfo{}, err
	}
	info, err := media.ValidateUpload(media.Upload{
		Filename:    filepath.Base(path),
		ContentType: mimeFromExt(path),
		Size:        int64(len(data)),
		Data:        data,
	}, media.MaxUploadBytes)
	if err != nil {
		return "", media.UploadInfo{}, err
	}
	return media.EncodeDataURI(info.MIMEType, data), info, nil
}

// systemLocale turns POSIX locale variables such as "en_US.UTF-8" into a
// BCP 47 tag.
func systemLocale() string {
	for _, key := range []string{"LC_ALL", "LC_TIME", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}

// writeResult saves inline images to path and prints remote ones.
func writeResult(w io.Writer, ref, path string) error {
	if !media.IsDataURI(ref) {
		fmt.Fprintln(w, ref)
		return nil
	}
	uri, err := media.ParseDataURI(ref)
	if err != nil {
		return err
	}
	data, err := uri.Bytes()
	if err != nil {
		return err
	}
	if ext := media.ExtensionForMIME(uri.MIMEType); ext != "" {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ext
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "Saved %s\n", path)
	return nil
}

func writeArchive(ctx context.Context, w io.Writer, versions []domain.ImageVersion, path string) error {
	assets, err := zip.VersionAssets(ctx, versions, fetchRemote)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := zip.WriteAssets(f, assets); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %d versions to %s\n", len(versions), path)
	return nil
}

func fetchRemote(ctx context.Context, ref string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	return data, resp.Header.Get("Content-Type"), err
}

// withInterrupt returns a context canceled with domain.ErrCanceled when a
// signal arrives on interrupt, so in-flight edits report a user cancel
// rather than a transport failure. onCancel runs after the context is done.
func withInterrupt(parent context.Context, interrupt <-chan os.Signal, onCancel func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-interrupt:
			cancel(domain.ErrCanceled)
			if onCancel != nil {
				onCancel()
			}
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}
