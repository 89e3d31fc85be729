package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ringstore/ringstore/internal/meta"
	"github.com/ringstore/ringstore/internal/store"
	"github.com/ringstore/ringstore/pkg/bytesize"
	"github.com/spf13/cobra"
)

var (
	objectKey    string
	objectTags   []string
	objectOutput string
)

func newObjectCmd() *cobra.Command {
	objectCmd := &cobra.Command{
		Use:     "object",
		Aliases: []string{"objects"},
		Short:   "Upload and download objects in the local data directory",
		Long: `Upload and download objects directly in the node's data directory.

Examples:
  # Store a file as cat.png in the photos bucket
  ringstore object put photos ./cat.png

  # Store it under another key with tags
  ringstore object put photos ./cat.png --key kitty.png --tag owner=alice --tag rating=5

  # Write the payload of cat.png to a file
  ringstore object get photos cat.png -o /tmp/cat.png`,
	}

	putCmd := &cobra.Command{
		Use:   "put <bucket-name> <file>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runObjectPut,
	}
	putCmd.Flags().StringVar(&objectKey, "key", "", "object key as name.type (default: file base name)")
	putCmd.Flags().StringArrayVarP(&objectTags, "tag", "t", nil, "metadata tag key=value (repeatable)")
	objectCmd.AddCommand(putCmd)

	getCmd := &cobra.Command{
		Use:   "get <bucket-name> <name.type>",
		Short: "Download an object",
		Args:  cobra.ExactArgs(2),
		RunE:  runObjectGet,
	}
	getCmd.Flags().StringVarP(&objectOutput, "output", "o", "", "write the payload to this file instead of printing metadata")
	objectCmd.AddCommand(getCmd)

	return objectCmd
}

// parseTag turns key=value into a metadata entry. Values that parse as a
// bool or a number keep that kind.
func parseTag(s string) (string, meta.Value, error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", meta.Value{}, fmt.Errorf("invalid tag %q: expected key=value", s)
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return key, meta.Bool(b), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return key, meta.Number(f), nil
	}
	return key, meta.String(raw), nil
}

func runObjectPut(cmd *cobra.Command, args []string) error {
	bucket, file := args[0], args[1]

	key := objectKey
	if key == "" {
		key = filepath.Base(file)
	}
	name, typ, err := store.SplitObjectKey(key)
	if err != nil {
		return err
	}

	tags := make(map[string]meta.Value, len(objectTags))
	for _, t := range objectTags {
		k, v, err := parseTag(t)
		if err != nil {
			return err
		}
		tags[k] = v
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	return withStore(func(st *store.Store) error {
		obj, err := st.Upload(cmd.Context(), bucket, name, typ, data, tags)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s.%s to %s (id %s, %s)\n",
			obj.Name(), obj.Type(), bucket, obj.ID(), bytesize.Format(int64(len(data))))
		return nil
	})
}

func runObjectGet(cmd *cobra.Command, args []string) error {
	bucket := args[0]
	name, typ, err := store.SplitObjectKey(args[1])
	if err != nil {
		return err
	}

	return withStore(func(st *store.Store) error {
		d, err := st.Download(cmd.Context(), bucket, name, typ)
		if err != nil {
			return err
		}
		if objectOutput != "" {
			if err := os.WriteFile(objectOutput, d.Payload, 0644); err != nil {
				return fmt.Errorf("write %s: %w", objectOutput, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s to %s\n", bytesize.Format(int64(len(d.Payload))), objectOutput)
			return nil
		}
		printMeta(cmd, d.Metadata)
		return nil
	})
}

func printMeta(cmd *cobra.Command, m map[string]meta.Value) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, m[k])
	}
	_ = w.Flush()
}
