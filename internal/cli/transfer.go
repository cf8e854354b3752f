package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/labelwire/internal/convert"
	"github.com/ppiankov/labelwire/internal/ndjson"
	"github.com/ppiankov/labelwire/internal/pipeline"
)

var (
	uploadProject   string
	uploadName      string
	skipDataRows    bool
	downloadOut     string
	uploadStrictIDs bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Validate an NDJSON file and upload it to a project",
	Long: `Upload fetches the project's ontology and data rows, validates every record
of the file and, only if all pass, streams the records to the platform's
import endpoint.

Example:
  labelwire upload labels.ndjson --project ckproj123
  labelwire upload labels.ndjson --project ckproj123 --name "batch 7" --skip-data-rows`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download an NDJSON export and write it as canonical records",
	Long: `Download fetches an export (absolute URL or path relative to the platform
base URL), ingests it into labels and writes them back out as NDJSON.

Example:
  labelwire download exports/ckexport1.ndjson -o export.ndjson`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)

	uploadCmd.Flags().StringVar(&uploadProject, "project", "", "target project id")
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "import name (default: file name)")
	uploadCmd.Flags().BoolVar(&skipDataRows, "skip-data-rows", false, "do not check that data rows exist")
	uploadCmd.Flags().BoolVar(&uploadStrictIDs, "strict-uuids", false, "require RFC 4122 uuids")
	uploadCmd.Flags().DurationVar(&commandTimeout, "timeout", 10*time.Minute, "overall timeout")
	_ = uploadCmd.MarkFlagRequired("project")

	downloadCmd.Flags().StringVarP(&downloadOut, "output", "o", "", "output file (default: stdout)")
	downloadCmd.Flags().DurationVar(&commandTimeout, "timeout", 10*time.Minute, "overall timeout")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	deps := pipeline.Deps{Ontologies: client, Uploader: client}
	if !skipDataRows {
		deps.DataRows = client
	}
	name := uploadName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	res, err := pipeline.New(deps, cfg).WithStrictUUIDs(uploadStrictIDs).UploadFile(ctx, uploadProject, name, args[0])
	var vf *pipeline.ValidationFailure
	if errors.As(err, &vf) {
		for _, is := range vf.Issues {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s:%d %s\n", args[0], is.Index, is.Error())
		}
		return errValidationFailed
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ uploaded %d records as %q (id %s)\n", res.Records, res.Handle.Name, res.Handle.ID)
	return nil
}

func runDownload(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	labels, err := pipeline.New(pipeline.Deps{Downloader: client}, cfg).Download(ctx, args[0])
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if downloadOut != "" {
		f, cerr := os.Create(downloadOut)
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

	recs, err := convert.EmitParallel(ctx, labels, cfg.Concurrency.Workers, convert.Options{
		CoalesceVideoClassifications: cfg.Convert.CoalesceVideoClassifications,
		PreferNames:                  cfg.Convert.PreferNames,
	})
	if err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	enc := ndjson.NewEncoder(out)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ %d labels, %d records\n", len(labels), enc.Count())
	return nil
}
