// Command boostctl manages the local SocialBoost workspace: accounts,
// sessions, cloud sync and the knowledge base.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/celerix-dev/socialboost-store/internal/app"
	"github.com/celerix-dev/socialboost-store/internal/config"
	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/spf13/cobra"
)

func main() {
	if err := execute(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one boostctl invocation and releases the runtime it opened,
// whether or not the command succeeded.
func execute(args []string, out io.Writer) error {
	c := &cli{}
	cmd := c.rootCmd()
	cmd.SetOut(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return errors.Join(err, c.close())
}

// cli carries the runtime opened for the current command.
type cli struct {
	configPath string
	logLevel   string
	rt         *app.Runtime
}

func (c *cli) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "boostctl",
		Short:         "Manage the local SocialBoost workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to boost.toml")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		c.registerCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.syncCmd(),
		c.dumpCmd(),
		c.factsCmd(),
		c.statsCmd(),
		c.copyCmd(),
	)
	return cmd
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	rt, err := app.Open(cmd.Context(), cfg, logger.New(logger.Config(cfg.Log)))
	if err != nil {
		return err
	}
	c.rt = rt

	if cmd.Annotations[annotationBoot] == "skip" {
		return nil
	}
	return c.boot(cmd)
}

// annotationBoot set to "skip" keeps a command from pulling the workspace
// before it runs. Commands that sign in pull after signing in instead.
const annotationBoot = "boot"

// boot pulls the signed-in workspace so reads see the remote state. Without
// a session, or with an unreachable remote, the command runs local-only.
func (c *cli) boot(cmd *cobra.Command) error {
	_, sess, err := c.rt.Auth.Verify(cmd.Context())
	if err != nil {
		return err
	}
	c.rt.Data.Boot(cmd.Context(), sess)
	return nil
}

func (c *cli) close() error {
	if c.rt == nil {
		return nil
	}
	c.rt.Log.Sync()
	err := c.rt.Close()
	c.rt = nil
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
