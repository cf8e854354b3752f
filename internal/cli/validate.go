package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/labelwire/internal/config"
	"github.com/ppiankov/labelwire/internal/ontology"
	"github.com/ppiankov/labelwire/internal/pipeline"
	"github.com/ppiankov/labelwire/internal/validate"
	"github.com/ppiankov/labelwire/internal/worker"
)

var (
	ontologyFile   string
	projectID      string
	checkDataRows  bool
	strictUUIDs    bool
	listFile       string
	jsonOutput     bool
	commandTimeout time.Duration
)

// errValidationFailed makes the process exit non-zero without repeating the
// issues already printed.
var errValidationFailed = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate NDJSON annotation files against an ontology",
	Long: `Validate checks every record of one or more NDJSON files against a project
ontology. The ontology is read from a local JSON or YAML document (--ontology)
or fetched from the platform (--project). With --project, --check-data-rows
also verifies that every referenced data row exists.

Use "-" to read from standard input. Several files are checked concurrently.

Example:
  labelwire validate labels.ndjson --ontology ontology.yaml
  labelwire validate --list files.txt --project ckproj123 --check-data-rows
  cat labels.ndjson | labelwire validate - --ontology ontology.json --json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&ontologyFile, "ontology", "", "ontology document (JSON or YAML)")
	validateCmd.Flags().StringVar(&projectID, "project", "", "fetch the ontology of this platform project")
	validateCmd.Flags().BoolVar(&checkDataRows, "check-data-rows", false, "verify data rows exist in the project (needs --project)")
	validateCmd.Flags().BoolVar(&strictUUIDs, "strict-uuids", false, "require RFC 4122 uuids")
	validateCmd.Flags().StringVar(&listFile, "list", "", "file listing NDJSON paths, one per line")
	validateCmd.Flags().BoolVar(&jsonOutput, "json", false, "print issues as JSON")
	validateCmd.Flags().DurationVar(&commandTimeout, "timeout", 10*time.Minute, "overall timeout")
	validateCmd.MarkFlagsMutuallyExclusive("ontology", "project")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && listFile == "" {
		return errors.New("no input: pass files or --list")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	v, err := buildValidator(ctx, cfg)
	if err != nil {
		return err
	}

	paths := args
	if listFile != "" {
		listed, err := worker.ReadPathsFromFile(listFile)
		if err != nil {
			return err
		}
		paths = append(paths, listed...)
	}

	var results []*worker.FileResult
	if len(paths) == 1 && paths[0] == "-" {
		issues, err := v.ValidateReader(cmd.InOrStdin())
		results = []*worker.FileResult{{Path: "-", Issues: issues, Error: err}}
	} else {
		results = worker.NewBatchValidator(v, cfg.Concurrency.Workers).ValidateFiles(ctx, paths)
	}

	failed := report(cmd.OutOrStdout(), results)
	if failed {
		return errValidationFailed
	}
	return nil
}

func buildValidator(ctx context.Context, cfg *config.Config) (*validate.Validator, error) {
	switch {
	case ontologyFile != "":
		if checkDataRows {
			return nil, errors.New("--check-data-rows needs --project")
		}
		o, err := ontology.ParseFile(ontologyFile)
		if err != nil {
			return nil, err
		}
		var opts []validate.Option
		if strictUUIDs {
			opts = append(opts, validate.WithStrictUUIDs())
		}
		return validate.NewValidator(o, opts...), nil
	case projectID != "":
		client, err := newClient(cfg)
		if err != nil {
			return nil, err
		}
		deps := pipeline.Deps{Ontologies: client}
		if checkDataRows {
			deps.DataRows = client
		}
		return pipeline.New(deps, cfg).WithStrictUUIDs(strictUUIDs).Validator(ctx, projectID)
	}
	return nil, errors.New("an ontology is required: pass --ontology or --project")
}

type issueJSON struct {
	File    string `json:"file"`
	Index   int    `json:"index"`
	UUID    string `json:"uuid,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// report prints results and reports whether any file failed.
func report(w io.Writer, results []*worker.FileResult) bool {
	failed := false
	var out []issueJSON
	for _, r := range results {
		if r.Error != nil {
			failed = true
			out = append(out, issueJSON{File: r.Path, Index: -1, Message: r.Error.Error()})
			continue
		}
		for _, is := range r.Issues {
			failed = true
			out = append(out, issueJSON{
				File:    r.Path,
				Index:   is.Index,
				UUID:    is.UUID,
				Kind:    string(is.Kind()),
				Message: is.Error(),
			})
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if out == nil {
			out = []issueJSON{}
		}
		_ = enc.Encode(out)
		return failed
	}

	for _, is := range out {
		if is.Index < 0 {
			fmt.Fprintf(w, "✗ %s: %s\n", is.File, is.Message)
			continue
		}
		fmt.Fprintf(w, "✗ %s:%d %s\n", is.File, is.Index, is.Message)
	}
	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(w, "✓ %s\n", r.Path)
		}
	}
	if failed {
		fmt.Fprintf(os.Stderr, "\n%d problems found\n", len(out))
	}
	return failed
}
