package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arborstore/pathstore/engine"
	"github.com/arborstore/pathstore/internal/cli"

	flag "github.com/spf13/pflag"
)

// allCommands returns all commands in display order. The engine is
// captured via closures in each command constructor.
func allCommands(e *engine.Engine, cfg Config) []*cli.Command {
	return []*cli.Command{
		AddCmd(e),
		UpdateCmd(e),
		AddOrUpdateCmd(e),
		ReadCmd(e),
		DeleteCmd(e),
		DeleteScopeCmd(e),
		LsCmd(e),
		FindCmd(e),
		ValidateCmd(e),
		BackupCmd(e),
		DumpCmd(e),
		LoadCmd(e),
		PrintConfigCmd(cfg),
		ShellCmd(e, cfg),
	}
}

func AddCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	reserve := fs.Uint32P("reserve", "r", 0, "Extra bytes of headroom to reserve for future in-place updates")

	return &cli.Command{
		Flags: fs,
		Usage: "add [-r bytes] <path> <payload>",
		Short: "Create a new object at path",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) != 2 {
				return errors.New("add: expected <path> <payload>")
			}

			if err := e.Add(args[0], []byte(args[1]), *reserve); err != nil {
				return err
			}

			o.Println("ok")

			return nil
		},
	}
}

func UpdateCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "update <path> <payload>",
		Short: "Overwrite an existing object's payload",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) != 2 {
				return errors.New("update: expected <path> <payload>")
			}

			ver, err := e.Update(args[0], []byte(args[1]))
			if err != nil {
				return err
			}

			o.Printf("ok version=%d\n", ver)

			return nil
		},
	}
}

func AddOrUpdateCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	reserve := fs.Uint32P("reserve", "r", 0, "Extra bytes of headroom when creating")

	return &cli.Command{
		Flags: fs,
		Usage: "set [-r bytes] <path> <payload>",
		Short: "Create or overwrite an object, whichever applies",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) != 2 {
				return errors.New("set: expected <path> <payload>")
			}

			created, ver, err := e.AddOrUpdate(args[0], []byte(args[1]), *reserve)
			if err != nil {
				return err
			}

			o.Printf("ok created=%v version=%d\n", created, ver)

			return nil
		},
	}
}

func ReadCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	lastVersion := fs.Uint32("version", 0, "Only return the payload if it's newer than this version")

	return &cli.Command{
		Flags: fs,
		Usage: "read [--version N] <path>",
		Short: "Read an object's payload and version",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) != 1 {
				return errors.New("read: expected <path>")
			}

			ver, payload, hasNew, err := e.Read(args[0], *lastVersion)
			if err != nil {
				return err
			}

			if !hasNew {
				o.Printf("no new data (still at version %d)\n", *lastVersion)

				return nil
			}

			o.Printf("version=%d\n%s\n", ver, payload)

			return nil
		},
	}
}

func DeleteCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "delete <path>",
		Short: "Remove a single object",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) != 1 {
				return errors.New("delete: expected <path>")
			}

			if err := e.Delete(args[0]); err != nil {
				return err
			}

			o.Println("ok")

			return nil
		},
	}
}

func DeleteScopeCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("delete-scope", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "delete-scope <scope>",
		Short: "Remove every object under a scope, recursively",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) != 1 {
				return errors.New("delete-scope: expected <scope>")
			}

			n, err := e.DeleteScope(args[0])
			if err != nil {
				return err
			}

			o.Printf("removed %d object(s)\n", n)

			return nil
		},
	}
}

func LsCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	recursive := fs.BoolP("recursive", "R", false, "List every object under the scope, recursively")

	return &cli.Command{
		Flags: fs,
		Usage: "ls [-R] [scope]",
		Short: "List keys and subscopes directly under a scope",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			scope := "/"
			if len(args) == 1 {
				scope = args[0]
			} else if len(args) > 1 {
				return errors.New("ls: expected [scope]")
			}

			if *recursive {
				all, err := e.AllObjectsUnder(scope)
				if err != nil {
					return err
				}

				for _, p := range all {
					o.Println(p)
				}

				return nil
			}

			keys, err := e.KeysInScope(scope)
			if err != nil {
				return err
			}

			subs, err := e.SubscopesInScope(scope)
			if err != nil {
				return err
			}

			for _, s := range subs {
				o.Println(s + "/")
			}

			for _, k := range keys {
				o.Println(k)
			}

			return nil
		},
	}
}

func FindCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "find <name> [scope]",
		Short: "Find every object whose final path segment matches name",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) == 0 || len(args) > 2 {
				return errors.New("find: expected <name> [scope]")
			}

			scope := "/"
			if len(args) == 2 {
				scope = args[1]
			}

			found, err := e.FindNameUnder(args[0], scope)
			if err != nil {
				return err
			}

			for _, p := range found {
				o.Println(p)
			}

			return nil
		},
	}
}

func ValidateCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "validate",
		Short: "Re-scan the backing file and report its structural health",
		Exec: func(_ context.Context, o *cli.IO, _ []string) error {
			report, err := e.Validate()
			if err != nil {
				return err
			}

			o.Printf("objects: %d\n", report.ObjectCount)

			if len(report.SkippedSlots) == 0 {
				o.Println("no damaged slots")

				return nil
			}

			for _, s := range report.SkippedSlots {
				o.Printf("skipped slot at offset %d: %s\n", s.Offset, s.Reason)
			}

			return nil
		},
	}
}

func BackupCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "backup",
		Short: "Write a timestamped copy of the current store file",
		Exec: func(_ context.Context, o *cli.IO, _ []string) error {
			dst, err := e.Backup()
			if err != nil {
				return err
			}

			o.Println(dst)

			return nil
		},
	}
}

func DumpCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "dump [file]",
		Short: "Export every object as YAML",
		Long:  "Export every object under / as a YAML document of path/version/payload records. Writes to stdout if [file] is omitted.",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) > 1 {
				return errors.New("dump: expected [file]")
			}

			if len(args) == 1 {
				return dumpToFile(e, args[0])
			}

			return dumpTo(e, o.Out())
		},
	}
}

func LoadCmd(e *engine.Engine) *cli.Command {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	overwrite := fs.Bool("overwrite", false, "Overwrite objects that already exist instead of failing")

	return &cli.Command{
		Flags: fs,
		Usage: "load <file>",
		Short: "Import objects from a YAML dump",
		Exec: func(_ context.Context, o *cli.IO, args []string) error {
			if len(args) != 1 {
				return errors.New("load: expected <file>")
			}

			n, err := loadFrom(e, args[0], *overwrite)
			if err != nil {
				return err
			}

			o.Printf("loaded %d object(s)\n", n)

			return nil
		},
	}
}

func PrintConfigCmd(cfg Config) *cli.Command {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "config",
		Short: "Print the effective configuration as JSON",
		Exec: func(_ context.Context, o *cli.IO, _ []string) error {
			s, err := FormatConfig(cfg)
			if err != nil {
				return err
			}

			o.Println(s)

			return nil
		},
	}
}

func ShellCmd(e *engine.Engine, cfg Config) *cli.Command {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)

	return &cli.Command{
		Flags: fs,
		Usage: "shell",
		Short: "Start an interactive session",
		Exec: func(_ context.Context, _ *cli.IO, _ []string) error {
			repl := &REPL{engine: e, cfg: cfg}

			return repl.Run()
		},
	}
}

// parseUint32 is shared by the REPL command handlers, which get their
// arguments as raw strings rather than through pflag.
func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}

	return uint32(n), nil
}
