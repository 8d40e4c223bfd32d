package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "buildcore",
		Short:         "Inspect and exercise the native container-image build core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newDiffKeyCommand())
	cmd.AddCommand(newCacheCommand())
	return cmd
}
