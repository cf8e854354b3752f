package cli

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/labelwire/internal/convert"
	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/ndjson"
	"github.com/ppiankov/labelwire/internal/wire"
)

var inspectVariants bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Summarize the records of an NDJSON stream",
	Long: `Inspect counts records per variant and data row and reports the media
type inferred for each label. Unrecognized records are counted, not fatal.

With --variants it prints the record variants and the keys that identify
them instead.

Example:
  labelwire inspect export.ndjson
  labelwire inspect --variants`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectVariants, "variants", false, "list record variants and their determinant keys")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if inspectVariants {
		printVariants(cmd.OutOrStdout())
		return nil
	}

	in, closeIn, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer closeIn()

	var (
		recs         []wire.Record
		unrecognized int
		byKind       = map[wire.Kind]int{}
	)
	for rec, err := range ndjson.NewDecoder(in).Records() {
		if err != nil {
			if !errs.Is(err, errs.UnrecognizedRecord) {
				return err
			}
			unrecognized++
			continue
		}
		byKind[rec.Kind()]++
		recs = append(recs, rec)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "records\t%d\n", len(recs)+unrecognized)
	if unrecognized > 0 {
		fmt.Fprintf(w, "unrecognized\t%d\n", unrecognized)
	}
	kinds := slices.SortedFunc(maps.Keys(byKind), func(a, b wire.Kind) int { return cmp.Compare(a, b) })
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s\t%d\n", k, byKind[k])
	}

	labels, err := convert.Ingest(recs)
	if err != nil {
		fmt.Fprintf(w, "labels\tnot ingestible: %v\n", err)
		return w.Flush()
	}
	media := map[model.MediaType]int{}
	for _, l := range labels {
		media[l.MediaType]++
	}
	fmt.Fprintf(w, "labels\t%d\n", len(labels))
	for _, m := range slices.Sorted(maps.Keys(media)) {
		fmt.Fprintf(w, "  %s\t%d\n", m, media[m])
	}
	return w.Flush()
}

func printVariants(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tDETERMINANTS")
	for _, v := range wire.Variants() {
		fmt.Fprintf(w, "%s\t%s\n", v.Kind, strings.Join(v.Determinants, ", "))
	}
	_ = w.Flush()
}
