package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/ringstore/ringstore/internal/journal"
	"github.com/ringstore/ringstore/internal/store"
	"github.com/spf13/cobra"
)

var bucketPrivate bool

func newBucketCmd() *cobra.Command {
	bucketCmd := &cobra.Command{
		Use:     "bucket",
		Aliases: []string{"buckets"},
		Short:   "Manage buckets in the local data directory",
		Long: `Manage buckets directly in the node's data directory. The commands work
without a running node and write to the same per-bucket journals.

Examples:
  # List all buckets
  ringstore bucket list

  # Create a private bucket
  ringstore bucket create photos --private

  # List objects in a bucket
  ringstore bucket objects photos

  # Delete a bucket with all its objects
  ringstore bucket delete photos`,
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all buckets",
		Args:    cobra.NoArgs,
		RunE:    runBucketList,
	}
	bucketCmd.AddCommand(listCmd)

	createCmd := &cobra.Command{
		Use:   "create <bucket-name>",
		Short: "Create a new bucket",
		Args:  cobra.ExactArgs(1),
		RunE:  runBucketCreate,
	}
	createCmd.Flags().BoolVar(&bucketPrivate, "private", false, "mark the bucket private")
	bucketCmd.AddCommand(createCmd)

	deleteCmd := &cobra.Command{
		Use:     "delete <bucket-name>",
		Aliases: []string{"rm"},
		Short:   "Delete a bucket and all its objects",
		Args:    cobra.ExactArgs(1),
		RunE:    runBucketDelete,
	}
	bucketCmd.AddCommand(deleteCmd)

	objectsCmd := &cobra.Command{
		Use:   "objects <bucket-name>",
		Short: "List objects in a bucket",
		Args:  cobra.ExactArgs(1),
		RunE:  runBucketObjects,
	}
	bucketCmd.AddCommand(objectsCmd)

	infoCmd := &cobra.Command{
		Use:   "info <bucket-name>",
		Short: "Show bucket metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runBucketInfo,
	}
	bucketCmd.AddCommand(infoCmd)

	return bucketCmd
}

// openStore opens the data directory named by the config without a cache,
// metrics or transfer limits beyond the defaults.
func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.TransferTimeout()
	if err != nil {
		return nil, err
	}
	return store.New(store.Options{
		Root:                   cfg.DataDir,
		Journals:               journal.Dir(cfg.LogDir),
		MaxConcurrentTransfers: cfg.Transfers.MaxConcurrent,
		TransferTimeout:        timeout,
	})
}

func withStore(fn func(*store.Store) error) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		_ = st.Close()
		return err
	}
	return st.Close()
}

func runBucketList(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		names, err := st.ListBuckets()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "No buckets found")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPRIVATE\tOBJECTS")
		for _, name := range names {
			b, err := st.Bucket(name)
			if err != nil {
				return err
			}
			objs, err := b.Objects()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%t\t%d\n", name, b.Private(), len(objs))
		}
		return w.Flush()
	})
}

func runBucketCreate(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		if _, err := st.CreateBucket(args[0], bucketPrivate); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Bucket %s created\n", args[0])
		return nil
	})
}

func runBucketDelete(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		if err := st.DeleteBucket(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Bucket %s deleted\n", args[0])
		return nil
	})
}

func runBucketObjects(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		b, err := st.Bucket(args[0])
		if err != nil {
			return err
		}
		objs, err := b.Objects()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(objs) == 0 {
			fmt.Fprintln(out, "No objects found")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE")
		for _, o := range objs {
			fmt.Fprintf(w, "%s\t%s\n", o.Name, o.Type)
		}
		return w.Flush()
	})
}

func runBucketInfo(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		b, err := st.Bucket(args[0])
		if err != nil {
			return err
		}
		printMeta(cmd, b.Meta())
		return nil
	})
}
