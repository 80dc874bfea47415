package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/hkvtable/config"
	"github.com/IvanBrykalov/hkvtable/hkv"
	"github.com/IvanBrykalov/hkvtable/keys"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive shell over a string-keyed table",
	Long: `Open an interactive shell over an in-process table with string keys.
Leases taken with 'acquire' are held until 'release', which makes it easy to
watch deletes wait and eviction pick its victims.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := tableCfg
		if cfg.KeyType != keys.String {
			logger.Warn().Str("key_type", string(cfg.KeyType)).Msg("shell only supports string keys; using string")
			cfg.KeyType = keys.String
		}
		opt, err := config.Options[string](cfg)
		if err != nil {
			return err
		}
		opt.Logger = &logger
		tb, err := hkv.New(opt)
		if err != nil {
			return err
		}
		defer func() { _ = tb.Close() }()

		r := &REPL{
			table:      tb,
			objectSize: cfg.ObjectSize,
			limit:      int(cfg.ObjectsLimit),
			held:       map[string][]hkv.Ref[string]{},
		}
		return r.Run()
	},
}

var shellCommands = []string{
	"acquire", "release", "tryget", "put", "cat", "del", "ls", "stats", "help", "exit",
}

// REPL is the interactive command loop.
type REPL struct {
	table      *hkv.Table[string]
	objectSize int
	limit      int
	held       map[string][]hkv.Ref[string]
	liner      *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hkvbench_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}
	defer r.saveHistory()
	defer r.releaseAll()

	st := r.table.Stats()
	fmt.Printf("hkvbench shell - table %q (object_size=%d, limit=%d, shards=%d, policy=%s)\n",
		st.Name, r.objectSize, st.Limit, st.Shards, st.Policy)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("hkv> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")
				return nil
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
			return nil
		case "help", "?":
			r.printHelp()
		case "acquire", "get":
			r.cmdAcquire(args)
		case "release":
			r.cmdRelease(args)
		case "tryget":
			r.cmdTryGet(args)
		case "put":
			r.cmdPut(args)
		case "cat":
			r.cmdCat(args)
		case "del", "delete":
			r.cmdDelete(args)
		case "ls", "list":
			r.cmdList()
		case "stats", "info":
			r.cmdStats()
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			_ = f.Close()
		}
	}
}

func (r *REPL) releaseAll() {
	for k, refs := range r.held {
		for _, ref := range refs {
			ref.Release()
		}
		delete(r.held, k)
	}
}

func (r *REPL) completer(line string) []string {
	var out []string
	for _, c := range shellCommands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  acquire <key>        get-or-create and keep a read lease
  release <key>        drop one lease held on key
  tryget <key>         look up without creating (lease dropped right away)
  put <key> <value>    get-or-create and write value into the payload
  cat <key>            print the payload
  del <key>            delete (refused while this shell holds a lease on key)
  ls                   list entries with their ids and reader counts
  stats                table counters as JSON
  exit                 quit (releases every held lease)`)
}

// canCreate refuses creations that could only succeed by evicting an entry
// this shell holds a lease on: that eviction would wait for us forever.
func (r *REPL) canCreate(key string) bool {
	if r.limit <= 0 {
		return true
	}
	if ref, ok := r.table.TryGetWithReadAcquire(key); ok {
		ref.Release()
		return true
	}
	if len(r.held) >= r.limit {
		fmt.Println("every slot is leased by this shell; release something first")
		return false
	}
	return true
}

func (r *REPL) cmdAcquire(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: acquire <key>")
		return
	}
	key := args[0]
	if !r.canCreate(key) {
		return
	}
	ref, existed, err := r.table.GetOrCreateWithReadAcquire(key)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	r.held[key] = append(r.held[key], ref)
	fmt.Printf("%s id=%s existed=%v readers=%d held=%d\n", key, ref.ID(), existed, ref.Readers(), len(r.held[key]))
}

func (r *REPL) cmdRelease(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: release <key>")
		return
	}
	key := args[0]
	refs := r.held[key]
	if len(refs) == 0 {
		fmt.Printf("no lease held on %s\n", key)
		return
	}
	last := refs[len(refs)-1]
	last.Release()
	if len(refs) == 1 {
		delete(r.held, key)
	} else {
		r.held[key] = refs[:len(refs)-1]
	}
	fmt.Printf("%s released, readers=%d\n", key, last.Readers())
}

func (r *REPL) cmdTryGet(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: tryget <key>")
		return
	}
	ref, ok := r.table.TryGetWithReadAcquire(args[0])
	if !ok {
		fmt.Println("(not found)")
		return
	}
	fmt.Printf("%s id=%s readers=%d\n", args[0], ref.ID(), ref.Readers())
	ref.Release()
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	key, val := args[0], strings.Join(args[1:], " ")
	if !r.canCreate(key) {
		return
	}
	ref, _, err := r.table.GetOrCreateWithReadAcquire(key)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	defer ref.Release()

	p := ref.Payload()
	if len(val) > len(p) {
		fmt.Printf("value truncated to %d bytes\n", len(p))
	}
	clear(p)
	copy(p, val)
	fmt.Printf("OK %s\n", ref.ID())
}

func (r *REPL) cmdCat(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: cat <key>")
		return
	}
	ref, ok := r.table.TryGetWithReadAcquire(args[0])
	if !ok {
		fmt.Println("(not found)")
		return
	}
	defer ref.Release()
	fmt.Printf("%q\n", string(bytes.TrimRight(ref.Payload(), "\x00")))
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: del <key>")
		return
	}
	key := args[0]
	if n := len(r.held[key]); n > 0 {
		fmt.Printf("this shell holds %d lease(s) on %s; release them first\n", n, key)
		return
	}
	if r.table.Delete(key) {
		fmt.Println("deleted")
	} else {
		fmt.Println("(not found)")
	}
}

func (r *REPL) cmdList() {
	type row struct {
		key string
		id  hkv.EntryID
	}
	var rows []row
	r.table.Range(func(k string, id hkv.EntryID) bool {
		rows = append(rows, row{k, id})
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
	for _, rw := range rows {
		fmt.Printf("%-24s id=%-10s held=%d\n", rw.key, rw.id, len(r.held[rw.key]))
	}
	fmt.Printf("(%d entries)\n", len(rows))
}

func (r *REPL) cmdStats() {
	data, err := json.MarshalIndent(r.table.Stats(), "", "  ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
