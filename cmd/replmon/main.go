package main

import (
    "log"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-replmon/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "replmon",
        Short:         "MongoDB replica set replication lag monitor",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    cli.AddAll(root)
    return root
}
