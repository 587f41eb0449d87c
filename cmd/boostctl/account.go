package main

import (
	"errors"
	"fmt"

	"github.com/celerix-dev/socialboost-store/internal/dataservice"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/spf13/cobra"
)

var errNoSession = errors.New("not signed in; run boostctl login")

func (c *cli) registerCmd() *cobra.Command {
	var in dataservice.NewUser
	cmd := &cobra.Command{
		Use:         "register",
		Short:       "Create the workspace owner and sign in",
		Annotations: map[string]string{annotationBoot: "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			u, sess, err := c.rt.Auth.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			c.rt.Data.Boot(cmd.Context(), sess)
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "account email")
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&in.AuthMethod, "auth-method", "email", "identity provider (email, google)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "login <email>",
		Short:       "Sign in as an existing local user and pull their workspace",
		Annotations: map[string]string{annotationBoot: "skip"},
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, sess, err := c.rt.Auth.Login(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c.rt.Data.Boot(cmd.Context(), sess)
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", u.Email, c.rt.Data.State())
			return nil
		},
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sess, err := c.rt.Auth.Verify(cmd.Context())
			if err != nil {
				return err
			}
			if !sess.Active() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			if err := c.rt.Auth.Logout(cmd.Context(), sess); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

type statusReport struct {
	User       string                       `json:"user,omitempty"`
	State      string                       `json:"state"`
	Connection dataservice.ConnectionResult `json:"connection"`
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the signed-in user, sync state and remote latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, _, err := c.rt.Auth.Verify(cmd.Context())
			if err != nil {
				return err
			}
			report := statusReport{
				State:      c.rt.Data.State().String(),
				Connection: c.rt.Data.TestConnection(cmd.Context()),
			}
			if u != nil {
				report.User = u.Email
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull the signed-in workspace from the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.session(cmd)
			if err != nil {
				return err
			}
			c.rt.Data.Resync(cmd.Context(), sess)
			fmt.Fprintln(cmd.OutOrStdout(), c.rt.Data.State())
			return nil
		},
	}
}

// session returns the verified session or errNoSession.
func (c *cli) session(cmd *cobra.Command) (session.Context, error) {
	_, sess, err := c.rt.Auth.Verify(cmd.Context())
	if err != nil {
		return session.Context{}, err
	}
	if !sess.Active() {
		return session.Context{}, errNoSession
	}
	return sess, nil
}
