package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfittko/vlad/internal/config"
	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

// flags holds the action selection and its arguments
type flags struct {
	client string
	vendor string

	listEndpoints   bool
	searchEndpoints string
	command         string
	machineID       string
	binary          string
	downloadFile    string
	force           bool
	clearFile       string
	listLibrary     bool
	clearLibrary    bool
}

// app is one CLI invocation
type app struct {
	stdout   io.Writer
	stderr   io.Writer
	registry *edr.Registry
	v        *viper.Viper
	flags    flags
}

func newApp(stdout, stderr io.Writer, registry *edr.Registry) *app {
	return &app{
		stdout:   stdout,
		stderr:   stderr,
		registry: registry,
		v:        config.NewViper(),
	}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vlad",
		Short: "Run live response actions on EDR-managed endpoints",
		Long: `vlad drives the live response APIs of Microsoft Defender for Endpoint
(MDATP) and Trend Vision One (TMV1): list endpoints, run a base64 encoded
script on one machine, collect a file from it, and manage the script
library.

Credentials are read from vlad.yaml (see --config), keyed by client name.

Examples:
  vlad -c acme -v MDATP -l
  vlad -c acme -v TMV1 -s web-
  vlad -c acme -v MDATP -m <machine-id> -x "$(printf 'whoami' | base64)"
  vlad -c acme -v MDATP -m <machine-id> -x <b64> -b ./tool.exe -f
  vlad -c acme -v TMV1 -m <agent-guid> -d /etc/hosts
  vlad -c acme -v MDATP --clear-library`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&a.flags.client, "client", "c", "", "Client name in the config file (required)")
	f.StringVarP(&a.flags.vendor, "vendor", "v", "", "EDR vendor: MDATP or TMV1 (required)")
	f.BoolVarP(&a.flags.listEndpoints, "list-endpoints", "l", false, "List active endpoints")
	f.StringVarP(&a.flags.searchEndpoints, "search-endpoints", "s", "", "List active endpoints whose name contains this text")
	f.StringVarP(&a.flags.command, "command", "x", "", "Base64 encoded script to run on --machineid")
	f.StringVarP(&a.flags.machineID, "machineid", "m", "", "Target machine ID")
	f.StringVarP(&a.flags.binary, "binary", "b", "", "Local file to stage on the machine before --command runs (MDATP only)")
	f.StringVarP(&a.flags.downloadFile, "download-file", "d", "", "Remote path to collect from --machineid")
	f.BoolVarP(&a.flags.force, "force", "f", false, "Cancel pending actions on the machine first (MDATP only)")
	f.StringVar(&a.flags.clearFile, "clear-file", "", "Delete one library file by name or ID")
	f.BoolVar(&a.flags.listLibrary, "list-library", false, "List the vendor script library")
	f.BoolVar(&a.flags.clearLibrary, "clear-library", false, "Delete every library file vlad created")
	f.BoolP("version", "V", false, "Print the version and exit")

	pf := cmd.PersistentFlags()
	pf.String(config.KeyConfig, "", "Credential file (default: vlad.yaml in the working directory, then next to the binary)")
	pf.String(config.KeyOutput, "text", "Output format: text or json")
	pf.String(config.KeyLogLevel, "warn", "Log level: debug, info, warn or error")
	pf.String(config.KeyTmpDir, "tmp", "Directory for generated scripts and downloaded archives")
	pf.String(config.KeyDownloadsDir, "downloads", "Directory for collected files")
	pf.Duration(config.KeyTimeout, 10*time.Minute, "Poll timeout for TMV1 actions")
	pf.Bool(config.KeyInsecureSkipVerify, false, "Skip TLS certificate verification")
	pf.Duration(config.KeyHTTPTimeout, 60*time.Second, "Per-request HTTP timeout")
	// viper reads a bound flag only when it was set, so VLAD_* env and the
	// settings file still apply otherwise.
	_ = a.v.BindPFlags(pf)

	return cmd
}

// execute runs the CLI and maps the outcome to an exit code. Every failure
// exits 1 unless an ExitError asks otherwise.
func execute(ctx context.Context, a *app, args []string) int {
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *workflow.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newApp(os.Stdout, os.Stderr, defaultRegistry()), os.Args[1:])
	stop()
	os.Exit(code)
}
