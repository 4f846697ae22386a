package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type globalOpts struct {
	addr     string
	caPath   string
	insecure bool
}

type sessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	User      json.RawMessage `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func newRootCommand() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:           "hs",
		Short:         "HomeStock account client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.addr, "addr", "http://localhost:8080", "server base URL")
	root.PersistentFlags().StringVar(&g.caPath, "cacert", "", "CA cert (PEM)")
	root.PersistentFlags().BoolVar(&g.insecure, "insecure", false, "skip cert verify (dev)")

	root.AddCommand(
		newVersionCommand(),
		newRegisterCommand(g),
		newLoginCommand(g),
		newLogoutCommand(g),
		newProfileCommand(g),
		newVerifySendCommand(g),
		newVerifyCommand(g),
		newResetSendCommand(g),
		newResetCommand(g),
		newPasswdCommand(g),
	)
	return root
}

func (g *globalOpts) client() (*apiClient, error) {
	return newClient(g.addr, g.caPath, g.insecure)
}

func (g *globalOpts) authedClient() (*apiClient, error) {
	tok, err := loadToken()
	if err != nil {
		return nil, err
	}
	c, err := g.client()
	if err != nil {
		return nil, err
	}
	return c.withToken(tok), nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func requireFlags(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("need --%s", pairs[i])
		}
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hs %s (%s)\n", version, buildDate)
		},
	}
}

func saveSession(cmd *cobra.Command, s sessionResponse) error {
	if err := saveToken(s.Token, s.ExpiresAt); err != nil {
		return err
	}
	var user any
	_ = json.Unmarshal(s.User, &user)
	printJSON(cmd.OutOrStdout(), user)
	return nil
}

func newRegisterCommand(g *globalOpts) *cobra.Command {
	var email, password, first, last string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and save the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags("email", email, "password", password, "first", first); err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			body := map[string]any{
				"fullname": map[string]string{"firstname": first, "lastname": last},
				"email":    email,
				"password": password,
			}
			var out sessionResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/register", body, &out); err != nil {
				return err
			}
			return saveSession(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().StringVar(&first, "first", "", "first name")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	return cmd
}

func newLoginCommand(g *globalOpts) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags("email", email, "password", password); err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			var out sessionResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/login",
				map[string]string{"email": email, "password": password}, &out); err != nil {
				return err
			}
			return saveSession(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	return cmd
}

func newLogoutCommand(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodPost, "/logout", nil, nil); err != nil {
				return err
			}
			if err := clearToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newProfileCommand(g *globalOpts) *cobra.Command {
	var first, last, picture string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the profile, or update it when flags are given",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			var user map[string]any
			if first == "" && last == "" && picture == "" {
				if err := c.do(cmd.Context(), http.MethodGet, "/profile", nil, &user); err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), user)
				return nil
			}
			if first == "" {
				return errors.New("need --first when updating the profile")
			}
			body := map[string]any{
				"fullname": map[string]string{"firstname": first, "lastname": last},
				"picture":  picture,
			}
			if err := c.do(cmd.Context(), http.MethodPut, "/profile", body, &user); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), user)
			return nil
		},
	}
	cmd.Flags().StringVar(&first, "first", "", "new first name")
	cmd.Flags().StringVar(&last, "last", "", "new last name")
	cmd.Flags().StringVar(&picture, "picture", "", "new picture URL")
	return cmd
}

func printMessage(cmd *cobra.Command, m messageResponse) {
	fmt.Fprintln(cmd.OutOrStdout(), m.Message)
}

func newVerifySendCommand(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-send",
		Short: "Mail an email verification code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			var out messageResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/verify/send-otp", nil, &out); err != nil {
				return err
			}
			printMessage(cmd, out)
			return nil
		},
	}
}

func newVerifyCommand(g *globalOpts) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm the email with a code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags("otp", code); err != nil {
				return err
			}
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			var out messageResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/verify", map[string]string{"otp": code}, &out); err != nil {
				return err
			}
			printMessage(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "otp", "", "verification code")
	return cmd
}

func newResetSendCommand(g *globalOpts) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-send",
		Short: "Request a password reset code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags("email", email); err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			var out messageResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/reset-password/send-otp",
				map[string]string{"email": email}, &out); err != nil {
				return err
			}
			printMessage(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	return cmd
}

func newResetCommand(g *globalOpts) *cobra.Command {
	var email, code, password string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with a reset code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags("email", email, "otp", code, "password", password); err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			var out messageResponse
			body := map[string]string{"email": email, "otp": code, "newPassword": password}
			if err := c.do(cmd.Context(), http.MethodPut, "/reset-password", body, &out); err != nil {
				return err
			}
			printMessage(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().StringVar(&code, "otp", "", "reset code")
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password")
	return cmd
}

func newPasswdCommand(g *globalOpts) *cobra.Command {
	var oldPw, newPw string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password of the logged-in account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags("old", oldPw, "new", newPw); err != nil {
				return err
			}
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			var out messageResponse
			body := map[string]string{"oldPassword": oldPw, "newPassword": newPw}
			if err := c.do(cmd.Context(), http.MethodPut, "/update-password", body, &out); err != nil {
				return err
			}
			printMessage(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&oldPw, "old", "", "current password")
	cmd.Flags().StringVar(&newPw, "new", "", "new password")
	return cmd
}
