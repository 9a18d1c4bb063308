package main

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/atelier/client"
	"github.com/xraph/atelier/graph"
	"github.com/xraph/atelier/ingest"
	"github.com/xraph/atelier/override"
)

var (
	runSetText   []string
	runSetNumber []string
	runSetBool   []string
	runSetImage  []string
	runOutDir    string
	runWatch     bool
)

var runCmd = &cobra.Command{
	Use:   "run <graph.json>",
	Short: "Submit a job graph, wait for completion, and save the artifacts",
	Long: `Run loads a job graph from a JSON file, applies any parameter overrides,
submits it to the compute server, waits for completion, and writes every
produced artifact into the output directory.

Override targets use node.path form, where path is dot-separated inside the
node's inputs:

  atelier run workflow.json --set 6.text="a red fox" --set-number 3.seed=42
  atelier run workflow.json --set-image 10.image=https://example.com/cat.png
  atelier run workflow.json --set-image 10.image=./local/cat.png`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runSetText, "set", nil,
		"text override, node.path=value (repeatable)")
	runCmd.Flags().StringArrayVar(&runSetNumber, "set-number", nil,
		"numeric override, node.path=value (repeatable)")
	runCmd.Flags().StringArrayVar(&runSetBool, "set-bool", nil,
		"boolean override, node.path=value (repeatable)")
	runCmd.Flags().StringArrayVar(&runSetImage, "set-image", nil,
		"image override, node.path=url-or-file (repeatable)")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", ".",
		"directory to write artifacts into")
	runCmd.Flags().BoolVar(&runWatch, "watch", false,
		"stream live progress events over WebSocket")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading graph: %w", err)
	}
	g, err := graph.Parse(data)
	if err != nil {
		return err
	}

	overrides, items, err := buildOverrides()
	if err != nil {
		return err
	}

	opts := []client.Option{client.WithConfig(loadConfig())}
	if runWatch {
		opts = append(opts, client.WithProgress())
	}
	c, err := client.New(viper.GetString("server"), opts...)
	if err != nil {
		return err
	}
	defer c.Destroy()

	res, err := c.Execute(cmd.Context(), g, overrides, items...)
	if err != nil {
		return err
	}
	if !res.Success {
		return res.Err
	}

	if err := os.MkdirAll(runOutDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for _, a := range res.Artifacts {
		raw, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return fmt.Errorf("decoding artifact %q: %w", a.Ref.Filename, err)
		}
		dest := filepath.Join(runOutDir, filepath.Base(a.Ref.Filename))
		if err := os.WriteFile(dest, raw, 0o644); err != nil {
			return fmt.Errorf("writing artifact %q: %w", a.Ref.Filename, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s\n", dest, a.Size, a.MimeType)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d artifact(s) written to %s\n", len(res.Artifacts), runOutDir)
	return nil
}

// buildOverrides translates the repeatable --set* flags into typed overrides.
// Local image files become inline binary payloads on a synthetic input item.
func buildOverrides() ([]override.Override, []ingest.Item, error) {
	var overrides []override.Override

	for _, spec := range runSetText {
		node, path, value, err := splitOverride(spec)
		if err != nil {
			return nil, nil, err
		}
		overrides = append(overrides, override.Override{
			NodeID: node, Path: path, Kind: override.Text, Value: value,
		})
	}
	for _, spec := range runSetNumber {
		node, path, value, err := splitOverride(spec)
		if err != nil {
			return nil, nil, err
		}
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("--set-number %q: %w", spec, err)
		}
		overrides = append(overrides, override.Override{
			NodeID: node, Path: path, Kind: override.Number, Value: n,
		})
	}
	for _, spec := range runSetBool {
		node, path, value, err := splitOverride(spec)
		if err != nil {
			return nil, nil, err
		}
		overrides = append(overrides, override.Override{
			NodeID: node, Path: path, Kind: override.Boolean, Value: value,
		})
	}

	item := ingest.Item{Binary: map[string]ingest.Payload{}}
	for i, spec := range runSetImage {
		node, path, value, err := splitOverride(spec)
		if err != nil {
			return nil, nil, err
		}
		o := override.Override{NodeID: node, Path: path, Kind: override.Image}
		if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
			o.Image = &override.ImageSource{URL: value}
		} else {
			raw, err := os.ReadFile(value)
			if err != nil {
				return nil, nil, fmt.Errorf("--set-image %q: %w", spec, err)
			}
			key := fmt.Sprintf("file%d", i)
			item.Binary[key] = ingest.Payload{
				Data:     base64.StdEncoding.EncodeToString(raw),
				MimeType: mime.TypeByExtension(filepath.Ext(value)),
				FileName: filepath.Base(value),
			}
			o.Image = &override.ImageSource{BinaryKey: key}
		}
		overrides = append(overrides, o)
	}

	if len(item.Binary) == 0 {
		return overrides, nil, nil
	}
	return overrides, []ingest.Item{item}, nil
}

// splitOverride parses "node.path=value" into its three parts.
func splitOverride(spec string) (node, path, value string, err error) {
	target, value, found := strings.Cut(spec, "=")
	if !found {
		return "", "", "", fmt.Errorf("override %q: want node.path=value", spec)
	}
	node, path, found = strings.Cut(target, ".")
	if !found || node == "" || path == "" {
		return "", "", "", fmt.Errorf("override %q: target must be node.path", spec)
	}
	return node, path, value, nil
}
