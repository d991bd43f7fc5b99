package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/marketlens/gateway/internal/client"
	"github.com/marketlens/gateway/internal/model"
	"github.com/marketlens/gateway/internal/session"
)

func (a *app) loginCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a one-time code sent to your email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				sess, err := a.store.Load()
				if err != nil {
					return err
				}
				if sess != nil {
					fmt.Fprintf(a.out, "Already logged in as %s. Use --force to sign in again.\n", sess.Email)
					return nil
				}
			}
			if err := a.store.Clear(); err != nil {
				return err
			}
			_, err := a.login(cmd.Context())
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "discard the current session and sign in again")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.store.Load()
			if err != nil {
				return err
			}
			if sess == nil {
				fmt.Fprintln(a.out, "Not logged in. Run `marketlens login`.")
				return nil
			}

			now := timeNow()
			fmt.Fprintf(a.out, "Email:          %s\n", sess.Email)
			fmt.Fprintf(a.out, "User ID:        %s\n", sess.UserID)
			fmt.Fprintf(a.out, "Machine ID:     %s\n", sess.MachineID)
			fmt.Fprintf(a.out, "Logged in:      %s\n", timeago.English.FormatReference(sess.CreatedAt, now))
			fmt.Fprintf(a.out, "Last activity:  %s\n", timeago.English.FormatReference(sess.LastActivity, now))
			fmt.Fprintf(a.out, "Expires:        %s\n", timeago.English.FormatReference(sess.ExpiresAt, now))
			if sess.LastRequestID != "" {
				fmt.Fprintf(a.out, "Last request:   %s\n", sess.LastRequestID)
			}
			fmt.Fprintf(a.out, "Gateway:        %s\n", a.client.BaseURL())
			return nil
		},
	}
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.store.Load()
			if err != nil {
				return err
			}
			if err := a.store.Clear(); err != nil {
				return err
			}
			if sess == nil {
				fmt.Fprintln(a.out, "Not logged in.")
				return nil
			}
			fmt.Fprintf(a.out, "Logged out %s.\n", sess.Email)
			return nil
		},
	}
}

// login runs the interactive email + code exchange and persists the session.
func (a *app) login(ctx context.Context) (*session.Session, error) {
	email, err := a.prompt("Email: ")
	if err != nil {
		return nil, err
	}

	a.client.SetToken("")
	var issued model.AuthResponse
	if err := a.client.APIRequest(ctx, http.MethodPost, "/auth", model.AuthRequest{Email: email}, &issued); err != nil {
		return nil, fmt.Errorf("request verification code: %w", err)
	}
	if issued.Message != "" {
		fmt.Fprintln(a.out, issued.Message)
	}
	if issued.Code != "" {
		fmt.Fprintf(a.out, "Verification code: %s\n", issued.Code)
	}

	code, err := a.prompt("Code: ")
	if err != nil {
		return nil, err
	}

	var verified model.VerifyOTPResponse
	req := model.VerifyOTPRequest{MethodID: issued.MethodID, Code: code, Email: email}
	if err := a.client.APIRequest(ctx, http.MethodPost, "/verify-otp", req, &verified); err != nil {
		return nil, fmt.Errorf("verify code: %w", err)
	}

	machineID, err := a.store.MachineID()
	if err != nil {
		return nil, err
	}
	sess := a.store.New(verified.UserID, verified.Email, verified.SessionToken, verified.SessionJWT, machineID)
	if err := a.store.Save(sess); err != nil {
		return nil, err
	}
	a.client.SetToken(sess.SessionJWT)

	fmt.Fprintf(a.out, "Logged in as %s.\n", sess.Email)
	return sess, nil
}

// ensureSession returns a session the gateway accepts, signing in again when
// the stored one is missing or rejected.
func (a *app) ensureSession(ctx context.Context) (*session.Session, error) {
	sess, err := a.store.Load()
	if err != nil {
		return nil, err
	}

	if sess != nil {
		a.client.SetToken(sess.SessionJWT)
		var verified model.VerifyTokenResponse
		err := a.client.APIRequest(ctx, http.MethodPost, "/auth/verify", nil, &verified)

		var httpErr *client.HTTPError
		switch {
		case err == nil && verified.Valid:
			if err := a.store.Touch(sess); err != nil {
				log.Warn().Err(err).Msg("failed to record session activity")
			}
			return sess, nil
		case err == nil, errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized:
			log.Debug().Err(err).Msg("gateway rejected stored session")
			if err := a.store.Clear(); err != nil {
				return nil, err
			}
			fmt.Fprintln(a.out, "Your session is no longer valid. Please sign in again.")
		default:
			return nil, fmt.Errorf("validate session: %w", err)
		}
	} else {
		fmt.Fprintln(a.out, "Not logged in. Signing in first.")
	}

	return a.login(ctx)
}
