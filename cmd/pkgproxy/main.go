// Package main implements the pkgproxy CLI, which imports the built-in demo
// package through proxies and inspects operation journals.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/richinsley/pkgproxy"
	"github.com/richinsley/pkgproxy/internal/demo"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	journal    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "pkgproxy",
		Short: "Use a package through import proxies",
		Long: `pkgproxy imports the built-in demo package through module, class and
callable proxies backed by a provider, and reads the journals traced
providers write.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.journal, "journal", "", "write an operation journal to this file")

	cmd.AddCommand(newNamesCmd(opts), newCallCmd(opts), newJournalCmd())
	return cmd
}

func newNamesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "names <module>",
		Short: "List the names a star-import of a module binds",
		Long: `List the names a star-import of a module binds, with their kind.

Examples:
  pkgproxy names demo.shapes
  pkgproxy names demo.mathx --log-level debug`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			return runNames(cmd.OutOrStdout(), s, args[0])
		},
	}
}

func newCallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <module> <function> [args...]",
		Short: "Call a function of a module",
		Long: `Call a function of a module. Arguments that parse as numbers are passed
as numbers, everything else as strings.

Examples:
  pkgproxy call demo.mathx add 2 3
  pkgproxy call demo.text greet gopher --journal ops.journal`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			return runCall(cmd.OutOrStdout(), s, args[0], args[1], args[2:])
		},
	}
}

func newJournalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "journal <file>",
		Short: "Print the operations recorded in a journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return runJournal(cmd.OutOrStdout(), f)
		},
	}
}

// openSession bootstraps the demo package behind the configured provider.
func openSession(opts *rootOptions) (*pkgproxy.Session, error) {
	cfg, err := pkgproxy.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.journal != "" {
		cfg.Journal = opts.journal
	}
	if cfg.Target == "" {
		cfg.Target = demo.Root
	}
	if cfg.Provider == "" {
		cfg.Provider = pkgproxy.LocalLocator
	}
	if cfg.Journal != "" && !strings.HasPrefix(cfg.Provider, pkgproxy.TracedPrefix) {
		cfg.Provider = pkgproxy.TracedPrefix + cfg.Provider
	}

	sys := pkgproxy.NewImportSystem(nil, pkgproxy.WithResolvers(demo.Catalog()))
	return pkgproxy.Bootstrap(sys, *cfg)
}

func runNames(w io.Writer, s *pkgproxy.Session, module string) error {
	ns, err := pkgproxy.ImportAll(s.System, module)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(ns))
	for name := range ns {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, kindOf(ns[name]))
	}
	return tw.Flush()
}

func runCall(w io.Writer, s *pkgproxy.Session, module, function string, rawArgs []string) error {
	got, err := pkgproxy.ImportFrom(s.System, module, function)
	if err != nil {
		return err
	}
	fn, ok := got[0].(*pkgproxy.CallableProxy)
	if !ok {
		return fmt.Errorf("%s.%s is a %s, not a function", module, function, kindOf(got[0]))
	}
	args := make([]any, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = parseArg(a)
	}
	result, err := fn.Call(args...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, formatValue(result))
	return err
}

func runJournal(w io.Writer, r io.Reader) error {
	hdr, records, err := pkgproxy.ReadJournal(r)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "session %s  version %s  started %s\n", hdr.Session, hdr.Version, hdr.Started.Format("2006-01-02T15:04:05Z07:00"))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tOP\tHANDLE\tNAME\tARGS\tRESULT\tERROR")
	for _, rec := range records {
		result := rec.Result
		if rec.Produced != 0 {
			result = strings.TrimSpace(result + " #" + strconv.FormatInt(rec.Produced, 10))
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			rec.Seq, rec.Op, rec.Handle, rec.Name, strings.Join(rec.Args, ", "), result, rec.Err)
	}
	return tw.Flush()
}

func kindOf(v any) string {
	switch v.(type) {
	case *pkgproxy.ModuleProxy:
		return "module"
	case *pkgproxy.ClassProxy:
		return "class"
	case *pkgproxy.CallableProxy:
		return "function"
	}
	return fmt.Sprintf("value (%T)", v)
}

func parseArg(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []string:
		return strings.Join(t, " ")
	}
	return fmt.Sprint(v)
}
