package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/version"
)

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
	profile    string
	region     string
	output     string
	logLevel   string
	color      bool
}

func (o *rootOptions) validate() error {
	if o.output != formatTable && o.output != formatJSON {
		return fmt.Errorf("invalid --output %q: want %q or %q", o.output, formatTable, formatJSON)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(defaultRuntime())
}

// newRootCmdWith builds the command tree against rt. Tests pass a runtime
// with fake AWS and store backends.
func newRootCmdWith(rt *runtime) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "cspm",
		Short:         "Cloud security posture auditor for S3 buckets and KMS keys",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default: ~/.config/cspm-auditor/config.yaml)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "Optional .env file applied before environment overrides")
	pf.StringVar(&opts.profile, "profile", "", "AWS profile name (default: config or credential chain)")
	pf.StringVar(&opts.region, "region", "", "AWS region (default: config or profile region)")
	pf.StringVarP(&opts.output, "output", "o", formatTable, "Output format: table or json")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	pf.BoolVar(&opts.color, "color", false, "Colour severity labels in table output")

	root.AddCommand(
		newAuditCmd(rt, opts),
		newFindingsCmd(rt, opts),
		newReconcileCmd(rt, opts),
		newDedupeCmd(rt, opts),
		newEventsCmd(rt, opts),
		newWorkerCmd(rt, opts),
		newServeCmd(rt, opts),
		newSimulateCmd(rt, opts),
		newDoctorCmd(rt, opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Info())
		},
	}
}

// errUnhealthy marks a command that completed but found failures. main
// prints it and exits non-zero.
var errUnhealthy = errors.New("one or more operations failed")
