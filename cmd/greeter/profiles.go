package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/novadristi/greeter/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect the profile store",
}

var profilesListCmd = &cobra.Command{
	Use:   "list <staff|customers>",
	Short: "List profiles of a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := profile.ParseCategory(args[0])
		if err != nil {
			return err
		}
		store, err := profile.Open(profile.Options{Dir: cfg.Store.DataDir})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		list, err := store.List(cmd.Context(), c)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVISITS\tLAST VISIT")
		for _, p := range list {
			last := "-"
			if !p.LastVisit.IsZero() {
				last = p.LastVisit.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID, p.Name, p.VisitCount, last)
		}
		return w.Flush()
	},
}

var profilesHistoryCmd = &cobra.Command{
	Use:   "history <staff|customers> <id>",
	Short: "Show the visit history of a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := profile.ParseCategory(args[0])
		if err != nil {
			return err
		}
		store, err := profile.Open(profile.Options{Dir: cfg.Store.DataDir})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		p, err := store.Get(cmd.Context(), c, args[1])
		if err != nil {
			return err
		}
		visits, err := store.History(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s), %d visits\n", p.Name, p.Category, p.VisitCount)
		for _, v := range visits {
			fmt.Fprintf(out, "  %s\n", v.Time.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesHistoryCmd)
	rootCmd.AddCommand(profilesCmd)
}
