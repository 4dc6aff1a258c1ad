package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"csync/internal/clipboard"
	"csync/pkg/types"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read metadata or payloads from the store",
	}
	cmd.AddCommand(newGetMetadataCmd(), newGetBlobCmd())
	return cmd
}

func newGetMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "List clipboard history entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")

			list, err := clientFor(cmd).Metadata(cmd.Context())
			if err != nil {
				return err
			}

			if output == "json" {
				enc := json.NewEncoder(os.Stdout)
				return enc.Encode(list)
			}
			printMetadataTable(list.Items)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "table", "output format: table|json")
	return cmd
}

func printMetadataTable(items []types.Metadata) {
	if len(items) == 0 {
		fmt.Println("History is empty.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tTYPE\tSIZE\tCREATED\tSUMMARY\n")
	for _, item := range items {
		id := item.ID
		if item.Pinned {
			id = "* " + id
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			id,
			item.BlobType,
			humanize.IBytes(uint64(item.Size)),
			time.Unix(item.Created, 0).Format("01-02 15:04:05"),
			item.Summary,
		)
	}
	tw.Flush()
}

func newGetBlobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob <id>",
		Short: "Fetch a payload by entry ID",
		Long: `Fetches the raw payload of a history entry.

By default the payload is written to stdout (images are refused on a
terminal; redirect or use -o). With -d the payload is delivered back:
text and images go onto the system clipboard, files are saved to the
current directory under their original name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outPath, _ := cmd.Flags().GetString("output")
			deliver, _ := cmd.Flags().GetBool("deliver")

			blob, err := clientFor(cmd).Blob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			switch {
			case deliver:
				return deliverBlob(blob)
			case outPath != "":
				return os.WriteFile(outPath, blob.Data, 0644)
			default:
				return writeBlobStdout(blob)
			}
		},
	}
	cmd.Flags().StringP("output", "o", "", "write payload to a file")
	cmd.Flags().BoolP("deliver", "d", false, "deliver payload to the clipboard (files: save to cwd)")
	return cmd
}

func deliverBlob(blob *types.Blob) error {
	if blob.Type == types.BlobFile {
		name := blob.FileName
		if name == "" {
			return fmt.Errorf("file payload has no name, use -o instead")
		}
		mode := os.FileMode(blob.FileMode)
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(name, blob.Data, mode); err != nil {
			return fmt.Errorf("failed to save file: %w", err)
		}
		fmt.Printf("Saved file: %s\n", name)
		return nil
	}

	if err := clipboard.Init(); err != nil {
		return err
	}
	return clipboard.Write(blob)
}

func writeBlobStdout(blob *types.Blob) error {
	if blob.Type == types.BlobImage && isatty.IsTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("cannot write image to terminal, please redirect stdout")
	}
	_, err := os.Stdout.Write(blob.Data)
	return err
}
