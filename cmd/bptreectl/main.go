// Command bptreectl is an interactive REPL over a single named B+-tree
// index: get/put/del/scan/stats against a live on-disk tree, for manual
// poking and demos the way tests/performance/btree exercises the tree
// under load.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arvindr-dev/bptreedb/core/bptree"
	"github.com/arvindr-dev/bptreedb/core/bufferpool"
	"github.com/arvindr-dev/bptreedb/core/storage"
	"github.com/arvindr-dev/bptreedb/pkg/logger"
	"github.com/arvindr-dev/bptreedb/pkg/telemetry"
	"github.com/chzyer/readline"
	"go.uber.org/zap"
)

const (
	keySize     = 16
	valueSize   = 32
	indexName   = "default"
	poolSize    = 128
	leafMax     = 64
	internalMax = 64
)

func main() {
	dataDir := flag.String("data-dir", filepath.Join(os.TempDir(), "bptreedb"), "directory holding the database file")
	logLevel := flag.String("log-level", "info", "zap log level")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	zlogger, err := logger.New(logger.Config{Level: *logLevel, Format: "console"})
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer zlogger.Sync()

	dbPath := filepath.Join(*dataDir, "bptree.db")
	disk, err := storage.Open(dbPath, zlogger.Named("storage"))
	if err != nil {
		disk, err = storage.Create(dbPath, zlogger.Named("storage"))
	}
	if err != nil {
		zlogger.Fatal("opening database file", zap.Error(err))
	}
	defer disk.Close()

	tel, telShutdown, err := telemetry.New(telemetry.Config{Enabled: true, ServiceName: "bptreectl", PrometheusPort: 9464, TraceSampleRatio: 1.0})
	if err != nil {
		zlogger.Fatal("starting telemetry", zap.Error(err))
	}
	defer telShutdown(context.Background())

	bpmMetrics, _ := telemetry.NewBPMMetrics(tel.Meter)
	treeMetrics, _ := telemetry.NewTreeMetrics(tel.Meter, tel.Tracer)
	bpm := bufferpool.NewManager(poolSize, disk, zlogger.Named("bufferpool"), bpmMetrics)

	ctx := context.Background()
	cfg := bptree.Config{KeySize: keySize, ValueSize: valueSize, LeafMaxSize: leafMax, InternalMaxSize: internalMax}
	cmp := func(a, b bptree.Key) int { return bytes.Compare(a, b) }
	tree, err := bptree.OpenTree(ctx, indexName, bpm, cmp, cfg, zlogger.Named("bptree"), treeMetrics)
	if err != nil {
		tree, err = bptree.CreateTree(ctx, indexName, bpm, cmp, cfg, zlogger.Named("bptree"), treeMetrics)
	}
	if err != nil {
		zlogger.Fatal("opening or creating index", zap.Error(err))
	}
	if err := tree.RegisterHeightGauge(tel.Meter); err != nil {
		zlogger.Warn("registering height gauge", zap.Error(err))
	}

	rl, err := readline.New("bptreectl> ")
	if err != nil {
		log.Fatalf("starting readline: %v", err)
	}
	defer rl.Close()

	fmt.Printf("bptreedb REPL on %s, index %q. Commands: put <key> <value> | get <key> | del <key> | scan [from] | stats | quit\n", dbPath, indexName)
	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "put":
			runPut(ctx, tree, fields)
		case "get":
			runGet(ctx, tree, fields)
		case "del", "remove":
			runDel(ctx, tree, fields)
		case "scan":
			runScan(ctx, tree, fields)
		case "stats":
			runStats(ctx, tree)
		case "quit", "exit":
			if err := bpm.FlushAll(); err != nil {
				fmt.Println("flush error:", err)
			}
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
	if err := bpm.FlushAll(); err != nil {
		fmt.Println("flush error:", err)
	}
}

func padKey(s string) bptree.Key {
	b := make([]byte, keySize)
	copy(b, s)
	return bptree.Key(b)
}

func padValue(s string) bptree.Value {
	b := make([]byte, valueSize)
	copy(b, s)
	return bptree.Value(b)
}

func trimmed(b []byte) string { return strings.TrimRight(string(b), "\x00") }

func runPut(ctx context.Context, tree *bptree.Tree, fields []string) {
	if len(fields) < 3 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	if err := tree.Insert(ctx, padKey(fields[1]), padValue(strings.Join(fields[2:], " "))); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func runGet(ctx context.Context, tree *bptree.Tree, fields []string) {
	if len(fields) < 2 {
		fmt.Println("usage: get <key>")
		return
	}
	val, err := tree.Get(ctx, padKey(fields[1]))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(trimmed(val))
}

func runDel(ctx context.Context, tree *bptree.Tree, fields []string) {
	if len(fields) < 2 {
		fmt.Println("usage: del <key>")
		return
	}
	if err := tree.Remove(ctx, padKey(fields[1])); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func runScan(ctx context.Context, tree *bptree.Tree, fields []string) {
	var it *bptree.Iterator
	var err error
	if len(fields) >= 2 {
		it, err = tree.BeginAt(ctx, padKey(fields[1]))
	} else {
		it, err = tree.Begin(ctx)
	}
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer it.Close()
	n := 0
	for it.Valid() {
		fmt.Printf("%s = %s\n", trimmed(it.Key()), trimmed(it.Value()))
		it.Next()
		n++
	}
	fmt.Println(strconv.Itoa(n), "entries")
}

func runStats(ctx context.Context, tree *bptree.Tree) {
	stats, err := tree.Stats(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("index=%s root=%d height=%d pages=%d keys=%d leaf_max=%d internal_max=%d\n",
		stats.Name, stats.RootPageID, stats.Height, stats.PageCount, stats.KeyCount, stats.LeafMaxSize, stats.InternalMaxSize)
}
