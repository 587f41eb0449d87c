package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/app"
	"github.com/celerix-dev/socialboost-store/internal/config"
	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/sanitize"
	"github.com/celerix-dev/socialboost-store/pkg/schema"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (c *cli) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <partition>",
		Short: "Print every record of a local partition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := c.rt.Local.GetAll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), docs)
		},
	}
}

func (c *cli) factsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Manage the knowledge base used to ground AI prompts",
	}

	var grounding bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List knowledge facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if grounding {
				text, err := c.rt.Data.GroundingContext(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}
			facts, err := c.rt.Data.GetKnowledgeFacts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), facts)
		},
	}
	list.Flags().BoolVar(&grounding, "grounding", false, "print the prompt grounding text instead of JSON")

	var category string
	add := &cobra.Command{
		Use:   "add <content>",
		Short: "Add a knowledge fact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.session(cmd)
			if err != nil {
				return err
			}
			now := sanitize.FormatTime(time.Now())
			f, err := c.rt.Data.SaveFact(cmd.Context(), sess, schema.KnowledgeFact{
				ID:             uuid.NewString(),
				Category:       category,
				Content:        strings.Join(args, " "),
				CreatedAt:      now,
				LastVerifiedAt: now,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), f.ID)
			return nil
		},
	}
	add.Flags().StringVar(&category, "category", "other", "pricing, logistics, menu, bio or other")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a knowledge fact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.session(cmd)
			if err != nil {
				return err
			}
			return c.rt.Data.DeleteFact(cmd.Context(), sess, args[0])
		},
	}

	cmd.AddCommand(list, add, rm)
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize what the local store holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.rt.Data.StorageStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func (c *cli) copyCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy the local store into another driver (file or sqlite)",
		RunE: func(cmd *cobra.Command, args []string) error {
			from := c.rt.Config.Local
			if to == from.Driver {
				return fmt.Errorf("store already uses the %s driver", to)
			}
			dst, err := app.OpenLocal(cmd.Context(), config.LocalConfig{Driver: to, DataDir: from.DataDir})
			if err != nil {
				return err
			}
			defer dst.Close()

			skipped, err := engine.Copy(cmd.Context(), c.rt.Local, dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s store into %s\n", from.Driver, to)
			if len(skipped) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Skipped partitions: %s\n", strings.Join(skipped, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "sqlite", "destination driver")
	return cmd
}
