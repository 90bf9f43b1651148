package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"picprompter/internal/auth"
	"picprompter/internal/domain"
	"picprompter/internal/kvcache"
)

func newLoginCmd(rt *runtime) *cobra.Command {
	var email, password, idToken string
	var google bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password, or with Google",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := rt.gate.Provider()
			var (
				session auth.Session
				err     error
			)
			if google {
				session, err = provider.LoginWithGoogle(cmd.Context(), idToken)
			} else {
				session, err = provider.Login(cmd.Context(), email, password)
			}
			if err != nil {
				return err
			}
			return rt.signedIn(cmd, session)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&google, "google", false, "sign in with Google instead")
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token (with --google)")
	return cmd
}

func newRegisterCmd(rt *runtime) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := rt.gate.Provider().Register(cmd.Context(), email, password, name)
			if err != nil {
				return err
			}
			return rt.signedIn(cmd, session)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newLogoutCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the cached session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			token, err := rt.kv.Get(ctx, keySession)
			if errors.Is(err, kvcache.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
				return nil
			}
			if err != nil {
				return err
			}
			if err := rt.gate.Provider().Logout(ctx, token); err != nil {
				return err
			}
			for _, key := range []string{keySession, kvcache.KeyUser} {
				if err := rt.kv.Delete(ctx, key); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rt.requireAuth(cmd.Context(), auth.Intent{Action: "view profile"})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", out.User.DisplayName(), out.User.Email)
			return nil
		},
	}
}

func (rt *runtime) signedIn(cmd *cobra.Command, session auth.Session) error {
	ctx := cmd.Context()
	if err := rt.kv.Set(ctx, keySession, session.Token); err != nil {
		return err
	}
	if err := rt.cacheUser(ctx, session.User); err != nil {
		rt.logger.Warn().Err(err).Msg("cli: cache user")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>.\n", session.User.DisplayName(), session.User.Email)
	return nil
}

func (rt *runtime) cacheUser(ctx context.Context, user domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return rt.kv.Set(ctx, kvcache.KeyUser, string(raw))
}
