package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"csync/pkg/types"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [path]",
		Short: "Push content into the store",
		Long: `Pushes new content into the clipboard history.

With a path argument the file is stored as a file payload, keeping its
name and mode. Without arguments stdin is read and stored as text, or
as an image with --image:

  csynctl put report.pdf
  echo "remember this" | csynctl put
  csynctl put --image < screenshot.png`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asImage, _ := cmd.Flags().GetBool("image")

			var ev types.Event
			if len(args) == 1 {
				path := args[0]
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read file: %w", err)
				}
				info, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("failed to stat file: %w", err)
				}
				ev = types.Event{
					Payload:  data,
					Type:     types.BlobFile,
					FileName: filepath.Base(path),
					FileMode: uint32(info.Mode().Perm()),
				}
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				typ := types.BlobText
				if asImage {
					typ = types.BlobImage
				}
				ev = types.Event{Payload: data, Type: typ}
			}

			meta, err := clientFor(cmd).Put(cmd.Context(), ev)
			if err != nil {
				return err
			}
			fmt.Printf("Stored %s entry %s\n", meta.BlobType, meta.ID)
			return nil
		},
	}
	cmd.Flags().Bool("image", false, "treat stdin as PNG image data")
	return cmd
}
