// segdump prints the segments a file sink has written, and optionally their
// records.
package main

import (
	"flag"
	"fmt"
	"os"

	"hotcold/pkg/sink"
	"hotcold/pkg/types"
)

func main() {
	dir := flag.String("dir", "./data/cold", "file sink directory")
	records := flag.Bool("records", false, "print the records of every segment")
	key := flag.String("key", "", "only print records with this key")
	flag.Parse()

	if err := run(*dir, *records || *key != "", *key); err != nil {
		fmt.Fprintln(os.Stderr, "segdump:", err)
		os.Exit(1)
	}
}

func run(dir string, withRecords bool, key string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	s, err := sink.OpenFile(dir, "", "")
	if err != nil {
		return err
	}
	defer s.Close()

	segs := s.Segments()
	fmt.Printf("%d segments, max seqn %d\n", len(segs), s.MaxSeqN())

	for _, seg := range segs {
		fmt.Printf("%s  %-5s %-4s records=%-6d size=%-8d keys=[%q..%q] max_seqn=%d %s\n",
			seg.ID, seg.Source, seg.Compression, seg.Records, seg.Size,
			seg.MinKey, seg.MaxKey, seg.MaxSeqN, seg.CreatedAt.Format("2006-01-02T15:04:05Z"))
		if !withRecords {
			continue
		}

		recs, err := s.ReadSegment(seg)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if key != "" && string(r.Key) != key {
				continue
			}
			if r.Op == types.DeleteOp {
				fmt.Printf("    %-6d DELETE %q\n", r.SeqN, r.Key)
				continue
			}
			fmt.Printf("    %-6d PUT    %q = %q\n", r.SeqN, r.Key, r.Value)
		}
	}
	return nil
}
