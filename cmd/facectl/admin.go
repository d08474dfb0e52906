package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show recognition count, registered identities and cached signatures",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.service.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Recognitions:      %d\n", stats.TotalRecognitions)
			fmt.Printf("Identities:        %d\n", stats.Identities)
			fmt.Printf("Cached signatures: %d\n", stats.CachedSignatures)
			return nil
		},
	}
}

func newCacheCmd(a *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the signature cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Remove every cached signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			flushed, err := a.components.Cache.Flush(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Flushed %d cache entries\n", flushed)
			return nil
		},
	})

	return cacheCmd
}

func newResetCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove every identity, identity photo and cached signature",
		Long: `Clears the identity index, the stored identity photos and the signature cache.
Uploads of jobs still in flight are kept. The recognition count is not reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(os.Stdin, os.Stdout, "Remove all registered identities and cached signatures?") {
				fmt.Println("Aborted")
				return nil
			}

			report, err := a.service.Reset(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Removed %d photos, flushed %d cache entries\n", report.PhotosRemoved, report.CacheEntriesFlushed)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := bufio.NewReader(in).ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
