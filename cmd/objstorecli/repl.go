package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arborstore/pathstore/engine"
	"github.com/peterh/liner"
)

// REPL is the interactive command loop started by the "shell" command.
type REPL struct {
	engine *engine.Engine
	cfg    Config
	liner  *liner.State
}

// historyFile returns the path to the REPL's history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".objstorecli_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("objstorecli - %s/%s (case_sensitive=%v)\n", r.cfg.StoreDir, r.cfg.StoreName, r.cfg.CaseSensitive)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("objstore> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "add":
			r.cmdAdd(args)

		case "update", "upd":
			r.cmdUpdate(args)

		case "set":
			r.cmdSet(args)

		case "read", "get":
			r.cmdRead(args)

		case "del", "delete":
			r.cmdDelete(args)

		case "delete-scope", "rmscope":
			r.cmdDeleteScope(args)

		case "ls", "list":
			r.cmdLs(args)

		case "find":
			r.cmdFind(args)

		case "validate":
			r.cmdValidate()

		case "backup":
			r.cmdBackup()

		case "count":
			fmt.Println(r.engine.ObjectCount())

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"add", "update", "upd", "set",
		"read", "get", "del", "delete",
		"delete-scope", "rmscope",
		"ls", "list", "find",
		"validate", "backup", "count",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			completions = append(completions, c)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  add <path> <payload> [reserve]   Create a new object")
	fmt.Println("  update <path> <payload>          Overwrite an existing object")
	fmt.Println("  set <path> <payload> [reserve]    Create or overwrite")
	fmt.Println("  read <path> [version]             Read payload if newer than version")
	fmt.Println("  del <path>                         Delete an object")
	fmt.Println("  delete-scope <scope>               Delete every object under scope")
	fmt.Println("  ls [scope]                         List keys/subscopes under scope")
	fmt.Println("  find <name> [scope]                Find objects by terminal name")
	fmt.Println("  validate                           Re-scan and report structural health")
	fmt.Println("  backup                             Write a timestamped backup copy")
	fmt.Println("  count                              Show the number of live objects")
	fmt.Println("  clear                              Clear the screen")
	fmt.Println("  help                               Show this help")
	fmt.Println("  exit / quit / q                    Exit")
}

func (r *REPL) cmdAdd(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: add <path> <payload> [reserve]")
		return
	}

	var reserve uint32

	if len(args) == 3 {
		v, err := parseUint32(args[2])
		if err != nil {
			fmt.Println("error:", err)
			return
		}

		reserve = v
	}

	if err := r.engine.Add(args[0], []byte(args[1]), reserve); err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("ok")
}

func (r *REPL) cmdUpdate(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: update <path> <payload>")
		return
	}

	ver, err := r.engine.Update(args[0], []byte(args[1]))
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("ok version=", ver)
}

func (r *REPL) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: set <path> <payload> [reserve]")
		return
	}

	var reserve uint32

	if len(args) == 3 {
		v, err := parseUint32(args[2])
		if err != nil {
			fmt.Println("error:", err)
			return
		}

		reserve = v
	}

	created, ver, err := r.engine.AddOrUpdate(args[0], []byte(args[1]), reserve)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Printf("ok created=%v version=%d\n", created, ver)
}

func (r *REPL) cmdRead(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Println("usage: read <path> [version]")
		return
	}

	var lastVersion uint32

	if len(args) == 2 {
		v, err := parseUint32(args[1])
		if err != nil {
			fmt.Println("error:", err)
			return
		}

		lastVersion = v
	}

	ver, payload, hasNew, err := r.engine.Read(args[0], lastVersion)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	if !hasNew {
		fmt.Println("no new data")
		return
	}

	fmt.Printf("version=%d payload=%q\n", ver, payload)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: del <path>")
		return
	}

	if err := r.engine.Delete(args[0]); err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("ok")
}

func (r *REPL) cmdDeleteScope(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delete-scope <scope>")
		return
	}

	n, err := r.engine.DeleteScope(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Printf("removed %d object(s)\n", n)
}

func (r *REPL) cmdLs(args []string) {
	scope := "/"
	if len(args) == 1 {
		scope = args[0]
	}

	keys, err := r.engine.KeysInScope(scope)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	subs, err := r.engine.SubscopesInScope(scope)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	for _, s := range subs {
		fmt.Println(s + "/")
	}

	for _, k := range keys {
		fmt.Println(k)
	}
}

func (r *REPL) cmdFind(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Println("usage: find <name> [scope]")
		return
	}

	scope := "/"
	if len(args) == 2 {
		scope = args[1]
	}

	found, err := r.engine.FindNameUnder(args[0], scope)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	for _, p := range found {
		fmt.Println(p)
	}
}

func (r *REPL) cmdValidate() {
	report, err := r.engine.Validate()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Printf("objects: %d\n", report.ObjectCount)

	for _, s := range report.SkippedSlots {
		fmt.Printf("skipped slot at offset %d: %s\n", s.Offset, s.Reason)
	}
}

func (r *REPL) cmdBackup() {
	dst, err := r.engine.Backup()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(dst)
}
