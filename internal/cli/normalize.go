package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/labelwire/internal/pipeline"
)

var normalizeOut string

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Rewrite an NDJSON stream into canonical records",
	Long: `Normalize ingests an NDJSON stream into labels and emits it again. Records
come out grouped by data row, video classification frame runs are expanded
(or coalesced with convert.coalesce_video_classifications), and
relationship-linked annotations receive fresh uuids.

Reads standard input when no file is given.

Example:
  labelwire normalize export.ndjson -o import.ndjson
  cat export.ndjson | labelwire normalize > import.ndjson`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNormalize,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
	normalizeCmd.Flags().StringVarP(&normalizeOut, "output", "o", "", "output file (default: stdout)")
}

func runNormalize(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in, closeIn, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer closeIn()

	var out io.Writer = cmd.OutOrStdout()
	if normalizeOut != "" {
		f, cerr := os.Create(normalizeOut)
		if cerr != nil {
			return fmt.Errorf("create output: %w", cerr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close output: %w", cerr)
			}
		}()
		out = f
	}

	stats, err := pipeline.New(pipeline.Deps{}, cfg).Normalize(in, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ %d labels, %d records written\n", stats.Labels, stats.Written)
	return nil
}

// openInput opens args[0], or standard input when args is empty or "-".
func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
