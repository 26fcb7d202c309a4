package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/media-relay/internal/lib/password"
)

func newRootCmd(open opener) *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	// withServices открывает хранилище перед командой и закрывает после.
	var withServices runWithServices = func(run func(cmd *cobra.Command, args []string, svc *services) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			svc, err := open(cmd.Context(), configPath, verbose)
			if err != nil {
				return err
			}
			defer func() { _ = svc.close() }()
			return run(cmd, args, svc)
		}
	}

	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Administer the media relay bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default $CONFIG_PATH)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print logs to stderr")

	root.AddCommand(
		newKeysCmd(withServices),
		newSettingsCmd(withServices),
		newUserCmd(withServices),
		&cobra.Command{
			Use:   "stats",
			Short: "Show user counts by tier",
			Args:  cobra.NoArgs,
			RunE: withServices(func(cmd *cobra.Command, _ []string, svc *services) error {
				stats, err := svc.engine.Stats(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Total users: %d\nPaid users: %d\nFree users: %d\n",
					stats.Total, stats.Paid, stats.Free)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "hash-password <password>",
			Short: "Print a bcrypt hash for admin.password_hash",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				hash, err := password.Hash(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			},
		},
	)
	return root
}

type runWithServices = func(run func(cmd *cobra.Command, args []string, svc *services) error) func(*cobra.Command, []string) error

func newKeysCmd(with runWithServices) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage access keys",
	}

	var (
		days  int
		notes string
	)
	genCmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a one-time access key (--days 0 grants lifetime)",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, _ []string, svc *services) error {
			key, err := svc.keys.Generate(cmd.Context(), days, notes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.Token)
			return nil
		}),
	}
	genCmd.Flags().IntVarP(&days, "days", "d", 30, "subscription length in days, 0 for lifetime")
	genCmd.Flags().StringVarP(&notes, "notes", "n", "", "free-form note stored with the key")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List access keys",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, _ []string, svc *services) error {
			keys, err := svc.keys.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOKEN\tDAYS\tUSED BY\tCREATED\tNOTES")
			for _, k := range keys {
				duration := "lifetime"
				if !k.Lifetime() {
					duration = strconv.Itoa(k.DurationDays)
				}
				usedBy := "-"
				if k.UsedBy != nil {
					usedBy = strconv.FormatInt(*k.UsedBy, 10)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					k.Token, duration, usedBy, k.CreatedAt.Format(time.DateOnly), k.Notes)
			}
			return tw.Flush()
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <token>",
		Short: "Delete an access key",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, svc *services) error {
			if err := svc.keys.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		}),
	}

	keysCmd.AddCommand(genCmd, listCmd, deleteCmd)
	return keysCmd
}

func newSettingsCmd(with runWithServices) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change bot settings",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List current settings",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, _ []string, svc *services) error {
			entries, err := svc.settings.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%q\n", e.Key, e.Value)
			}
			return tw.Flush()
		}),
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting, effective immediately",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(cmd *cobra.Command, args []string, svc *services) error {
			if err := svc.settings.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
			return nil
		}),
	}

	settingsCmd.AddCommand(listCmd, setCmd)
	return settingsCmd
}

func newUserCmd(with runWithServices) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect users and grant subscriptions",
	}

	showCmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's entitlement state",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, svc *services) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			snap, err := svc.engine.Snapshot(cmd.Context(), id, time.Now())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		}),
	}

	grantCmd := &cobra.Command{
		Use:   "grant <user-id> <days>",
		Short: "Grant or extend a subscription (days <= 0 grants lifetime)",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(cmd *cobra.Command, args []string, svc *services) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid days %q", args[1])
			}
			now := time.Now()
			if _, err := svc.engine.Grant(cmd.Context(), id, days, now); err != nil {
				return err
			}
			snap, err := svc.engine.Snapshot(cmd.Context(), id, now)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		}),
	}

	userCmd.AddCommand(showCmd, grantCmd)
	return userCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
