package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moby/buildcore/content"
	"github.com/moby/buildcore/diffkey"
)

func newDiffKeyCommand() *cobra.Command {
	var coupleToBase bool

	cmd := &cobra.Command{
		Use:   "diffkey <dir-a> <dir-b>",
		Short: "Compute the canonical DiffKey between two directory trees",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, target := args[0], args[1]

			records, err := content.WalkDiff(base, target)
			if err != nil {
				return err
			}

			key, err := diffkey.Compute(records, diffkey.ComputeOptions{
				TargetMount:  target,
				BaseMount:    base,
				CoupleToBase: coupleToBase,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), key.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&coupleToBase, "couple-to-base", false, "derive the key against the \"scratch\" lineage tag rather than the base-agnostic one (this command supplies no base digest)")
	return cmd
}
