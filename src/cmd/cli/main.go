// Command erudaite-cli delegates one-shot requests to a resident
// erudaite-desktop process over the loopback delegation port.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ikuradondai/erudaite-desktop/src/config"
	"github.com/ikuradondai/erudaite-desktop/src/singleinstance"
)

type cliOptions struct {
	toStdout   bool
	target     string
	jsonOutput bool
	verbose    bool
	timeoutSec int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(os.Args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "erudaite-cli",
		Short:         "Translate the current selection via the resident instance",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(*opts)
		},
	}

	cmd.Flags().BoolVar(&opts.toStdout, "stdout", false, "Print the translation instead of leaving it on the clipboard")
	cmd.Flags().StringVar(&opts.target, "target", "", "Override the target language for this request")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the result as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().IntVar(&opts.timeoutSec, "timeout", 30, "Overall timeout in seconds")

	return cmd
}

func runWithOptions(opts cliOptions) error {
	if !opts.verbose {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(os.Stderr)
	}

	// Apply .env so ERUDAITE_PORT_* match the resident's.
	_, _ = config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.timeoutSec)*time.Second)
	defer cancel()

	// JSON output needs the text; force stdout mode on the wire.
	wantText := opts.toStdout || opts.jsonOutput

	client := singleinstance.NewClient()
	delegated, text, err := client.TryRunOnce(ctx, wantText, opts.target)
	if err != nil {
		return err
	}
	if !delegated {
		return fmt.Errorf("no resident instance found; start erudaite-desktop first")
	}

	if opts.jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Translation string `json:"translation"`
			Target      string `json:"target,omitempty"`
		}{Translation: text, Target: opts.target})
	}
	if opts.toStdout {
		fmt.Print(text)
	}
	return nil
}
