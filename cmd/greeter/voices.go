package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/novadristi/greeter/internal/detection"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List speech voices and the ones greetings would use",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sched, closeAudio := newScheduler(cfg.Speech)
		defer func() { _ = closeAudio.Close() }()
		defer sched.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		out := cmd.OutOrStdout()
		for _, v := range sched.Voices(ctx) {
			fmt.Fprintf(out, "%-40s %s\n", v.Name, v.Locale)
		}
		for _, g := range []detection.Gender{detection.GenderFemale, detection.GenderMale, detection.GenderNone} {
			label := string(g)
			if label == "" {
				label = "Default"
			}
			name := "(engine default)"
			if v := sched.Preferred(ctx, g); v != nil {
				name = v.Name
			}
			fmt.Fprintf(out, "%s voice: %s\n", label, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(voicesCmd)
}
