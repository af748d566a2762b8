package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"main/internal/schema"
	"main/internal/wal"
)

func main() {
	dir := flag.String("dir", "testdata/events", "Event log directory")
	prefix := flag.String("prefix", "", "Segment file prefix (default: events)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	decode := flag.Bool("decode", false, "Decode known record payloads as JSON")
	runFilter := flag.String("run", "", "Only print entries for this run id")
	flag.Parse()

	var run uuid.UUID
	if *runFilter != "" {
		parsed, err := uuid.Parse(*runFilter)
		if err != nil {
			log.Fatalf("invalid run id %q: %v", *runFilter, err)
		}
		run = parsed
	}

	opts := wal.ReaderOptions{
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	}

	var index int
	counts := make(map[schema.RecordKind]int)
	err := wal.Scan(*dir, *prefix, opts, func(entry wal.Entry) error {
		if run != uuid.Nil && entry.RunID != run {
			return nil
		}
		index++
		kind := schema.RecordKind(entry.Kind)
		counts[kind]++
		fmt.Printf("%06d seq=%d topic=%d scope=%d kind=%s run=%s ts=%d len=%d\n",
			index, entry.Seq, entry.Topic, entry.Scope, kind, entry.RunID, entry.TsNano, len(entry.Payload))
		if *decode {
			printDecoded(kind, entry.Payload)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}

	fmt.Printf("%d entries\n", index)
	for kind, n := range counts {
		fmt.Printf("  %s: %d\n", kind, n)
	}
}

func printDecoded(kind schema.RecordKind, payload []byte) {
	if !kind.IsAvailable() {
		return
	}
	rec, err := schema.DecodeRecord(kind, payload)
	if err != nil {
		fmt.Printf("  decode %s failed: %v\n", kind, err)
		return
	}
	out, err := sonic.MarshalString(rec)
	if err != nil {
		fmt.Printf("  marshal %s failed: %v\n", kind, err)
		return
	}
	fmt.Printf("  %s\n", out)
}
