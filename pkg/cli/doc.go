/*
Package cli provides command-line helpers for the admission command.

Output Formatting:

Results render as aligned text, JSON or CSV. Types implementing Tabular
render as columns in text and CSV output; JSON encodes the value itself:

	format, err := cli.ParseFormat(outputFlag)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, breakerTable(metrics))

Progress Reporting:

For load generation, workers share one reporter:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(total)
	// in each worker
	progress.Add(1)
	// when done
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

Errors:

ConfigError and CommandError carry context for the user; ExitCode maps
them to process exit codes.
*/
package cli
