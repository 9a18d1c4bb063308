package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/atelier/api"
	"github.com/xraph/atelier/ingest"
)

var uploadOverwrite bool

var uploadCmd = &cobra.Command{
	Use:   "upload <file-or-url>",
	Short: "Upload an asset to the compute server",
	Long: `Upload pushes a local file, or the content behind an http(s) URL, to the
server's asset store and prints the server-assigned handle, which can be
used as a node input value.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadOverwrite, "overwrite", false,
		"replace an existing asset with the same name")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	c, err := api.New(viper.GetString("server"))
	if err != nil {
		return err
	}

	source := args[0]
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		handle, err := ingest.New(c).FromURL(cmd.Context(), source)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), handle)
		return nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("reading asset: %w", err)
	}
	handle, err := c.Upload(cmd.Context(), data, filepath.Base(source), uploadOverwrite)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), handle)
	return nil
}
