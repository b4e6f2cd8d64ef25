// Command objstorecli opens a hierarchical path/object store and exposes
// its operations from the shell, either one-shot ("objstorecli read
// /a/b") or as an interactive session ("objstorecli shell").
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arborstore/pathstore/engine"
	"github.com/arborstore/pathstore/internal/cli"

	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args, os.Environ()))
}

// run is the main entry point, factored out from main for testability.
func run(out, errOut io.Writer, args []string, env []string) int {
	globalFlags := flag.NewFlagSet(cli.ProgName, flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagStoreDir := globalFlags.String("store-dir", "", "Override the store `directory`")
	flagStoreName := globalFlags.String("store-name", "", "Override the store `name`")
	flagCaseSensitive := globalFlags.Bool("case-sensitive", false, "Open the store in case-sensitive mode")
	flagRecover := globalFlags.Bool("recover", false, "Open tolerating a damaged backing file, discarding unreadable slots")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	workDir := *flagCwd
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fprintln(errOut, "error:", err)
			return 1
		}

		workDir = wd
	}

	cfg, _, err := LoadConfig(workDir, *flagConfig, Config{
		StoreDir:      *flagStoreDir,
		StoreName:     *flagStoreName,
		CaseSensitive: *flagCaseSensitive,
	}, OverrideSet{
		StoreDir:      globalFlags.Changed("store-dir"),
		StoreName:     globalFlags.Changed("store-name"),
		CaseSensitive: globalFlags.Changed("case-sensitive"),
	}, env)
	if err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, allCommands(nil, cfg))
		return 0
	}

	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, allCommands(nil, cfg))

		return 1
	}

	e, _, err := engine.Open(engine.NewRealFS(), cfg.StoreDir, cfg.StoreName, cfg.CaseSensitive, *flagRecover)
	if err != nil {
		fprintln(errOut, "error: opening store:", err)
		return 1
	}

	defer e.Close()

	commands := allCommands(e, cfg)

	commandMap := make(map[string]*cli.Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	cmdName := commandAndArgs[0]

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	cmdIO := cli.NewIO(out, errOut)

	return cmd.Run(context.Background(), cmdIO, commandAndArgs[1:])
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help                  Show help
  -C, --cwd <dir>             Run as if started in <dir>
  -c, --config <file>         Use specified config file
  --store-dir <directory>     Override the store directory
  --store-name <name>         Override the store name
  --case-sensitive             Open the store in case-sensitive mode
  --recover                    Tolerate a damaged backing file on open`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage:", cli.ProgName, "[flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run '"+cli.ProgName+" --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*cli.Command) {
	fprintln(w, cli.ProgName+" - hierarchical key/object store CLI")
	fprintln(w)
	fprintln(w, "Usage:", cli.ProgName, "[flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
