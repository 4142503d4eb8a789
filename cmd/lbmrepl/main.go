package main

import (
	"bufio"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	lbm "github.com/jsvensson/lbm-go"
)

func main() {
	var (
		heapCells    = flag.Int("heap-cells", 0, "cons-heap cell count (0 = default)")
		memWords     = flag.Int("mem-words", 0, "byte-memory word count (0 = default)")
		defragWords  = flag.Int("defrag-words", 0, "defrag-pool word count (0 = default)")
		constWords   = flag.Int("const-words", 0, "constant-heap word count (0 = default)")
		quantum      = flag.Int("quantum", 0, "scheduler quantum (0 = default)")
		loadPath     = flag.String("load", "", "path to a saved image to boot from")
		traceGC      = flag.Bool("gc-trace", false, "log each collection")
		logJSON      = flag.Bool("log-json", false, "emit structured JSON logs instead of console output")
	)
	flag.Parse()

	cfg := lbm.NewConfig()
	if *heapCells > 0 {
		cfg.SetInt("heap.cells", *heapCells)
	}
	if *memWords > 0 {
		cfg.SetInt("memory.words", *memWords)
	}
	if *defragWords > 0 {
		cfg.SetInt("memory.defrag_words", *defragWords)
	}
	if *constWords > 0 {
		cfg.SetInt("const_heap.words", *constWords)
	}
	if *quantum > 0 {
		cfg.SetInt("scheduler.quantum", *quantum)
	}
	cfg.SetBool("gc.trace", *traceGC)

	var rt *lbm.Runtime
	if *loadPath != "" {
		data, err := os.ReadFile(*loadPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "can't read image: %s\n", err)
			os.Exit(1)
		}
		rt, err = lbm.LoadImage(cfg, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "can't load image: %s\n", err)
			os.Exit(1)
		}
	} else {
		rt = lbm.NewRuntime(cfg)
	}

	if *logJSON {
		rt.Log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		rt.Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	if !cfg.GetBool("gc.trace") {
		rt.Log = rt.Log.Level(zerolog.InfoLevel)
	}

	registerArith(rt)

	repl(rt)
}

func repl(rt *lbm.Runtime) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("lbm> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("lbm> ")
			continue
		}
		if strings.HasPrefix(line, ":") {
			if !runCommand(rt, line) {
				return
			}
			fmt.Print("lbm> ")
			continue
		}
		evalLine(rt, line)
		fmt.Print("lbm> ")
	}
}

func evalLine(rt *lbm.Runtime, line string) {
	src := lbm.NewMemSource([]byte(line))
	rd := newReader(rt, src)
	for {
		form, ok, err := rd.ReadForm()
		if err != nil {
			fmt.Printf("read error: %s\n", err)
			return
		}
		if !ok {
			return
		}
		program, err := rt.AllocCons(form, lbm.EncodeSymbol(lbm.SymNil))
		if err != nil {
			fmt.Printf("alloc error: %s\n", err)
			return
		}
		c := rt.Sched.Spawn("repl", program, lbm.EncodeSymbol(lbm.SymNil))
		for c.State != lbm.ContextDead {
			rt.Sched.Tick()
		}
		if c.Err != nil {
			fmt.Printf("error: %s\n", c.Err)
			continue
		}
		fmt.Println(printWord(rt, c.Result))
	}
}

func runCommand(rt *lbm.Runtime, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]
	switch cmd {
	case ":quit":
		return false
	case ":info":
		allocated, collections, recovered := rt.Cons.Stats()
		fmt.Printf("cells=%d allocated=%d collections=%d last_recovered=%d\n",
			rt.Cons.Len(), allocated, collections, recovered)
	case ":state":
		fmt.Printf("ready=%d blocked=%d sleeping=%d\n",
			rt.Sched.ReadyLen(), rt.Sched.BlockedLen(), rt.Sched.SleepingLen())
	case ":ctxs":
		for _, c := range rt.Sched.Contexts() {
			fmt.Printf("%d %s %s\n", c.ID, c.Name, c.State)
		}
	case ":pause":
		rt.Sched.Pause()
		fmt.Println("paused")
	case ":continue":
		rt.Sched.Continue()
		fmt.Println("continuing")
	case ":send":
		if len(args) != 2 {
			fmt.Println("usage: :send CID N")
			return true
		}
		id, err1 := strconv.Atoi(args[0])
		n, err2 := strconv.ParseInt(args[1], 10, 64)
		if err1 != nil || err2 != nil {
			fmt.Println("usage: :send CID N")
			return true
		}
		if err := rt.Sched.Send(lbm.ContextID(id), lbm.EncodeSmallInt(n)); err != nil {
			fmt.Printf("send failed: %s\n", err)
		}
	case ":load":
		if len(args) != 1 {
			fmt.Println("usage: :load FILE")
			return true
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Printf("can't read file: %s\n", err)
			return true
		}
		evalLine(rt, string(data))
	case ":inspect":
		if len(args) != 1 {
			fmt.Println("usage: :inspect SYM")
			return true
		}
		id, ok := rt.Symbols.Lookup(args[0])
		if !ok {
			fmt.Println("unknown symbol")
			return true
		}
		v, ok := rt.Globals.Lookup(rt, id)
		if !ok {
			fmt.Println("unbound")
			return true
		}
		fmt.Println(printWord(rt, v))
	case ":undef":
		fmt.Println("undef not supported: globals are append-only once defined")
	case ":reset":
		fmt.Println("reset not supported in this process; restart the REPL")
	case ":heap":
		fmt.Printf("heap.cells=%d\n", rt.Cons.Len())
	case ":symbols":
		fmt.Printf("interned=%d\n", rt.Symbols.Len())
	case ":prof":
		fmt.Println("profiling not implemented")
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
	return true
}

// registerArith wires the handful of arithmetic primitives the
// testable scenarios in spec.md §8 exercise as extensions — the core
// evaluator itself never knows about +, -, *, or =; it only knows how
// to call whatever the registry hands it.
func registerArith(rt *lbm.Runtime) {
	def := func(name string, fn lbm.ExtFunc) {
		handle, err := rt.Exts.Register(name, fn)
		if err != nil {
			panic(err)
		}
		rt.Globals.Define(rt, rt.Symbols.Intern(name), handle)
	}
	def("+", func(rt *lbm.Runtime, args []lbm.Word) (lbm.Word, error) {
		var sum int64
		for _, a := range args {
			sum += lbm.DecodeSmallInt(a)
		}
		return lbm.EncodeSmallInt(sum), nil
	})
	def("-", func(rt *lbm.Runtime, args []lbm.Word) (lbm.Word, error) {
		if len(args) == 0 {
			return lbm.EncodeSmallInt(0), nil
		}
		acc := lbm.DecodeSmallInt(args[0])
		if len(args) == 1 {
			return lbm.EncodeSmallInt(-acc), nil
		}
		for _, a := range args[1:] {
			acc -= lbm.DecodeSmallInt(a)
		}
		return lbm.EncodeSmallInt(acc), nil
	})
	def("*", func(rt *lbm.Runtime, args []lbm.Word) (lbm.Word, error) {
		acc := int64(1)
		for _, a := range args {
			acc *= lbm.DecodeSmallInt(a)
		}
		return lbm.EncodeSmallInt(acc), nil
	})
	def("=", func(rt *lbm.Runtime, args []lbm.Word) (lbm.Word, error) {
		for i := 1; i < len(args); i++ {
			if lbm.DecodeSmallInt(args[i]) != lbm.DecodeSmallInt(args[0]) {
				return lbm.EncodeSymbol(lbm.SymNil), nil
			}
		}
		return lbm.EncodeSymbol(lbm.SymTrue), nil
	})
}

func printWord(rt *lbm.Runtime, w lbm.Word) string {
	switch {
	case lbm.IsSymbol(w):
		id := lbm.DecodeSymbol(w)
		if kind, ok := lbm.ErrorKindOf(w); ok {
			name, _ := rt.Symbols.NameOf(kind)
			return name
		}
		name, _ := rt.Symbols.NameOf(id)
		if name == "" {
			return "nil"
		}
		return name
	case lbm.IsSmallInt(w):
		return strconv.FormatInt(lbm.DecodeSmallInt(w), 10)
	case lbm.IsSmallUint(w):
		return strconv.FormatUint(lbm.DecodeSmallUint(w), 10)
	case lbm.IsChar(w):
		return string(lbm.DecodeChar(w))
	case lbm.IsCons(w):
		return printList(rt, w)
	case lbm.IsBoxed(w):
		return printBoxed(rt, w)
	case lbm.IsArray(w):
		return fmt.Sprintf("#[array %d bytes]", rt.ArrayLen(w))
	case lbm.IsDefragArray(w):
		return "#[defrag-array]"
	default:
		return "#[unknown]"
	}
}

func printBoxed(rt *lbm.Runtime, w lbm.Word) string {
	bits := rt.BoxedBits(w)
	switch {
	case lbm.IsBoxedInt(w):
		return strconv.FormatInt(int64(bits), 10)
	case lbm.IsBoxedUint(w):
		return strconv.FormatUint(bits, 10)
	case lbm.IsBoxedFloat(w):
		return strconv.FormatFloat(math.Float64frombits(bits), 'g', -1, 64)
	default:
		return "#[boxed]"
	}
}

func printList(rt *lbm.Runtime, w lbm.Word) string {
	if lbm.IsClosure(rt, w) {
		return "#[closure]"
	}
	var sb strings.Builder
	sb.WriteByte('(')
	first := true
	cur := w
	for lbm.IsCons(cur) {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		sb.WriteString(printWord(rt, rt.Car(cur)))
		cur = rt.Cdr(cur)
	}
	if !lbm.IsNil(cur) {
		sb.WriteString(" . ")
		sb.WriteString(printWord(rt, cur))
	}
	sb.WriteByte(')')
	return sb.String()
}
