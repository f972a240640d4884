// kvcli is a REPL for interacting with a kvdb handle (in-memory or
// persistent hash-file store), grounded on cmd/sloty's liner-based REPL
// shape.
//
// Usage:
//
//	kvcli [-c|--config defaults.hujson] <location>
//
// <location> follows §4.3's grammar: "*" for an in-memory store, or a path
// ending in .tch/.hdb for the persistent store, optionally followed by
// "#key=value" tuning fragments.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	natomic "github.com/natefinch/atomic"

	"github.com/finnpan/dbm-sub001/pkg/kvdb"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "kvcli: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("kvcli", flag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "optional HuJSON defaults file")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: kvcli [-c|--config defaults.hujson] <location>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("missing location argument")
	}

	fcfg, err := loadFileConfig(*configPath)
	if err != nil {
		return err
	}

	location := mergeLocation(fs.Arg(0), fcfg)

	db, err := kvdb.Open(location)
	if err != nil {
		return fmt.Errorf("opening %q: %w", location, err)
	}
	defer db.Close()

	return (&repl{db: db}).run()
}

// mergeLocation splits user into its path and its own "#k=v" fragments,
// then interleaves the file-config defaults ahead of them so an option the
// user typed explicitly always wins (last assignment to the same key wins
// in kvdb's location parser).
func mergeLocation(user string, fcfg fileConfig) string {
	path, userOpts, _ := strings.Cut(user, "#")

	var b strings.Builder

	b.WriteString(path)
	b.WriteString(fcfg.locationSuffix())

	if userOpts != "" {
		b.WriteByte('#')
		b.WriteString(userOpts)
	}

	return b.String()
}

type repl struct {
	db *kvdb.DB
}

func (r *repl) run() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	fmt.Printf("kvcli: %s (%s)\n", r.db.Location(), kindName(r.db.Kind()))
	fmt.Println("type 'help' for commands, 'exit' to quit")

	for {
		input, err := line.Prompt("kvcli> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}

			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if r.dispatch(input) {
			return nil
		}
	}
}

func kindName(k kvdb.Kind) string {
	if k == kvdb.KindMemory {
		return "in-memory"
	}

	return "persistent"
}

// dispatch runs one REPL command, returning true when the REPL should exit.
func (r *repl) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help":
		printHelp()
	case "put":
		r.cmdErr(requireArgs(args, 2, "put <key> <value>"), func() error {
			return r.db.Put([]byte(args[0]), []byte(args[1]))
		})
	case "putkeep":
		r.cmdErr(requireArgs(args, 2, "putkeep <key> <value>"), func() error {
			return r.db.PutKeep([]byte(args[0]), []byte(args[1]))
		})
	case "putcat":
		r.cmdErr(requireArgs(args, 2, "putcat <key> <value>"), func() error {
			return r.db.PutCat([]byte(args[0]), []byte(args[1]))
		})
	case "putshl":
		r.cmdErr(requireArgs(args, 3, "putshl <key> <value> <width>"), func() error {
			width, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}

			return r.db.PutShl([]byte(args[0]), []byte(args[1]), width)
		})
	case "out":
		r.cmdErr(requireArgs(args, 1, "out <key>"), func() error {
			return r.db.Out([]byte(args[0]))
		})
	case "get":
		r.cmdValue(requireArgs(args, 1, "get <key>"), func() ([]byte, error) {
			return r.db.Get([]byte(args[0]))
		})
	case "vsiz":
		if err := requireArgs(args, 1, "vsiz <key>"); err != nil {
			fmt.Println("error:", err)
			return false
		}

		n, err := r.db.VSiz([]byte(args[0]))
		printResult(n, err)
	case "addint":
		r.cmdAddInt(args)
	case "rnum":
		fmt.Println(r.db.RecordCount())
	case "stat":
		r.cmdStat()
	case "sync":
		r.cmdErr(nil, r.db.Sync)
	case "optimize":
		r.cmdErr(nil, r.db.Optimize)
	case "vanish":
		r.cmdErr(nil, r.db.Vanish)
	case "cacheclear":
		r.db.CacheClear()
	case "defrag":
		step := 0
		if len(args) > 0 {
			step, _ = strconv.Atoi(args[0])
		}

		r.cmdErr(nil, func() error { return r.db.Defrag(step) })
	case "tranbegin":
		r.cmdErr(nil, r.db.TranBegin)
	case "trancommit":
		r.cmdErr(nil, r.db.TranCommit)
	case "tranabort":
		r.cmdErr(nil, r.db.TranAbort)
	case "fwmkeys":
		r.cmdFwmKeys(args)
	case "regex":
		r.cmdRegex(args)
	case "export":
		r.cmdExport(args)
	case "":
	default:
		fmt.Printf("unknown command %q, type 'help'\n", cmd)
	}

	return false
}

func requireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}

	return nil
}

func (r *repl) cmdErr(precheck error, fn func() error) {
	if precheck != nil {
		fmt.Println("error:", precheck)
		return
	}

	if err := fn(); err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("ok")
}

func (r *repl) cmdValue(precheck error, fn func() ([]byte, error)) {
	if precheck != nil {
		fmt.Println("error:", precheck)
		return
	}

	v, err := fn()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(string(v))
}

func printResult(n int, err error) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(n)
}

func (r *repl) cmdAddInt(args []string) {
	if err := requireArgs(args, 2, "addint <key> <delta>"); err != nil {
		fmt.Println("error:", err)
		return
	}

	delta, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	n, err := r.db.AddInt([]byte(args[0]), int32(delta))
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(n)
}

func (r *repl) cmdStat() {
	st, err := r.db.Stat()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Printf("rnum=%d fsiz=%d bnum=%d cache=%d fatal=%t\n",
		st.RecordCount, st.FileSize, st.BucketCount, st.CacheLen, st.Fatal)
}

func (r *repl) cmdFwmKeys(args []string) {
	if err := requireArgs(args, 1, "fwmkeys <prefix> [max]"); err != nil {
		fmt.Println("error:", err)
		return
	}

	max := 0
	if len(args) > 1 {
		max, _ = strconv.Atoi(args[1])
	}

	keys, err := r.db.FwmKeys([]byte(args[0]), max)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	for _, k := range keys {
		fmt.Println(string(k))
	}
}

func (r *repl) cmdRegex(args []string) {
	if err := requireArgs(args, 1, "regex <pattern> [max]"); err != nil {
		fmt.Println("error:", err)
		return
	}

	out, err := r.db.Misc("regex", args)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	for i := 0; i+1 < len(out); i += 2 {
		fmt.Printf("%s\t%s\n", out[i], out[i+1])
	}
}

// cmdExport dumps every (key, value) pair as tab-separated lines to a file,
// written atomically (temp file + rename) via natefinch/atomic so a reader
// never observes a partially written export.
func (r *repl) cmdExport(args []string) {
	if err := requireArgs(args, 1, "export <path>"); err != nil {
		fmt.Println("error:", err)
		return
	}

	var b strings.Builder

	walkErr := r.db.ForEach(func(key, value []byte) bool {
		b.WriteString(string(key))
		b.WriteByte('\t')
		b.WriteString(string(value))
		b.WriteByte('\n')

		return true
	})
	if walkErr != nil {
		fmt.Println("error:", walkErr)
		return
	}

	if err := natomic.WriteFile(args[0], strings.NewReader(b.String())); err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("ok")
}

func printHelp() {
	fmt.Println(`commands:
  put <key> <value>            insert or overwrite
  putkeep <key> <value>        insert only if absent
  putcat <key> <value>         append to existing value
  putshl <key> <value> <width> concat then truncate to trailing width bytes
  out <key>                    remove
  get <key>                    fetch
  vsiz <key>                   value byte length
  addint <key> <delta>         add to an int32 counter
  rnum                         live record count
  stat                         record/file/bucket/cache counters
  fwmkeys <prefix> [max]       keys with a given prefix
  regex <pattern> [max]        full scan by POSIX regex ('*' prefix = case-insensitive)
  sync / optimize / vanish / cacheclear / defrag [step]
  tranbegin / trancommit / tranabort
  export <path>                dump all records as a TSV file (atomic write)
  exit / quit / q               leave the REPL`)
}
