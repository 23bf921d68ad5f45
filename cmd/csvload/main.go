// Command csvload detects, loads and serves order and product exports.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Every format and backend is compiled in; config picks one backend.
	_ "csvload/internal/parser/all"
	_ "csvload/internal/storage/all"
)

type rootFlags struct {
	configPath string
	verbose    bool
	output     string
	reportLog  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fatalf("Error: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	var rf rootFlags

	root := &cobra.Command{
		Use:   "csvload",
		Short: "Load orders and products exports into a database",
		Long: `csvload classifies tabular files (CSV, TSV, HTML tables, JSON) by their
header, validates every row against the matching schema and loads it with
first-write-wins semantics.

Commands:
  serve       REST API: upload, CRUD, visualization
  detect      classify files by header
  ingest      load files into their tables
  watch       load files dropped into an inbox directory
  drop-table  drop the orders or products table`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&rf.configPath, "config", "", "config file (default: ./csvload.yaml or $HOME/csvload.yaml)")
	root.PersistentFlags().BoolVarP(&rf.verbose, "verbose", "v", false, "verbose logs")
	root.PersistentFlags().StringVarP(&rf.output, "output", "o", outputTable, "output format: table, json or yaml")
	root.PersistentFlags().StringVar(&rf.reportLog, "report-log", "", "append every ingest report as a JSON line to this file")

	root.AddCommand(
		newServeCommand(&rf),
		newDetectCommand(&rf),
		newIngestCommand(&rf),
		newWatchCommand(&rf),
		newDropTableCommand(&rf),
	)
	return root
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
