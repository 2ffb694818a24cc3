// Package main provides erpctl, a command-line client for the ERP portal API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// globalOptions are the flags accepted before the subcommand
type globalOptions struct {
	configPath     string
	baseURL        string
	storageBackend string
	prometheusAddr string
	verbose        bool
	showVersion    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newGlobalFlags(stderr io.Writer) (*flag.FlagSet, *globalOptions) {
	opts := &globalOptions{}
	fs := flag.NewFlagSet("erpctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "Path to the YAML configuration file")
	fs.StringVar(&opts.configPath, "c", "", "Path to the YAML configuration file (shorthand)")
	fs.StringVar(&opts.baseURL, "base-url", "", "Override the API base URL (e.g. https://erp.example.com)")
	fs.StringVar(&opts.storageBackend, "storage", "", "Override the session storage backend: file, memory, redis")
	fs.StringVar(&opts.prometheusAddr, "prometheus", "", "Serve client metrics on this address while the command runs (e.g. :9464)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&opts.verbose, "v", false, "Enable debug logging (shorthand)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")

	fs.Usage = func() { printUsage(stderr) }
	return fs, opts
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `erpctl - ERP portal command-line client

USAGE:
    erpctl [global options] <command> [command options]

COMMANDS:
    login       Sign in and store the session
    logout      Revoke the session on the server and remove it locally
    whoami      Show the signed-in user and token details
    forgot      Request a password reset link
    reset       Set a new password with a reset token
    passwd      Change the signed-in user's password
    mfa         Manage multi-factor authentication (setup, activate, disable, status)
    get         GET an API path and print the response data
    post        POST a JSON body to an API path and print the response data
    dealers     List dealers
    version     Show version information

GLOBAL OPTIONS:
    -config, -c <path>    Path to the YAML configuration file
    -base-url <url>       Override the API base URL
    -storage <backend>    Session storage backend: file, memory, redis
    -prometheus <addr>    Serve client metrics while the command runs
    -verbose, -v          Enable debug logging
    -version              Show version information

EXAMPLES:
    erpctl login -email ada@example.com -company ACME
    erpctl whoami
    erpctl get /dealers -q page=2 -q search=north
    erpctl post /accounting/payments '{"dealerId":"...","amount":"100.00","method":"CASH"}'
    erpctl mfa setup

Configuration is read from config.yaml (./ or $HOME/.erpctl), a .env file,
and ERP_* environment variables, e.g. ERP_API_BASE_URL.
`)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "erpctl version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// run executes one erpctl invocation and returns the process exit code
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs, opts := newGlobalFlags(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.showVersion {
		printVersion(stdout)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "Error: a command is required")
		fmt.Fprintln(stderr)
		printUsage(stderr)
		return 2
	}
	name, cmdArgs := rest[0], rest[1:]
	if name == "version" {
		printVersion(stdout)
		return 0
	}
	if name == "help" {
		printUsage(stdout)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", name)
		printUsage(stderr)
		return 2
	}

	a, err := newApp(ctx, opts, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	if err := cmd(ctx, a, cmdArgs); err != nil {
		return a.report(err)
	}
	return 0
}
