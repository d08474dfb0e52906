package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/face-recognition/internal/index"
	"github.com/spf13/cobra"
)

func newIdentitiesCmd(a *app) *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "identities",
		Short: "List registered identities, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listIdentities(cmd.Context(), os.Stdout, pageSize)
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 100, "Identities fetched per query")

	return cmd
}

// listIdentities walks every page so the output is the complete registry
func (a *app) listIdentities(ctx context.Context, out io.Writer, pageSize int) error {
	if pageSize <= 0 {
		pageSize = 100
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tREGISTERED\tPHOTO")

	var (
		cursor *index.Cursor
		total  int
	)

	for {
		page, err := a.service.ListIdentities(ctx, pageSize, cursor)
		if err != nil {
			return fmt.Errorf("failed to list identities: %w", err)
		}

		hasMore := len(page) > pageSize
		if hasMore {
			page = page[:pageSize]
		}

		for _, id := range page {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", id.Identifier, id.CreatedAt.Local().Format(time.DateTime), id.DisplayReference)
		}
		total += len(page)

		if !hasMore {
			break
		}

		last := page[len(page)-1]
		cursor = &index.Cursor{CreatedAt: last.CreatedAt, Identifier: last.Identifier}
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d identities\n", total)
	return nil
}
