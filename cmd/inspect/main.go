package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/logging"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to a buildgate WAL database")
	last := flag.Int("last", 20, "show N most recent entries")
	uncommitted := flag.Bool("uncommitted", false, "show only entries that were never committed")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/buildgate.db [--last N] [--uncommitted] [--json]")
		os.Exit(2)
	}

	backend, err := wal.NewSQLiteBackend(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	log, err := wal.Open(backend)
	if err != nil {
		backend.Close()
		if fc, ok := failclosed.As(err); ok {
			fmt.Fprintf(os.Stderr, "wal verification failed [%s]: %s\n", fc.Code, fc.Context)
		} else {
			fmt.Fprintf(os.Stderr, "open wal: %v\n", err)
		}
		os.Exit(1)
	}
	defer log.Close()

	entries := log.Entries()
	if *uncommitted {
		entries = log.Uncommitted()
	}
	if *last > 0 && len(entries) > *last {
		entries = entries[len(entries)-*last:]
	}

	rows := make([]row, len(entries))
	for i, e := range entries {
		rows[i] = toRow(e)
	}
	head := log.Head()
	out := listing{
		Algorithm: wal.ChainAlgorithm,
		Entries:   log.Len(),
		Head:      hex.EncodeToString(head[:]),
		Rows:      rows,
	}

	if *jsonOut {
		err = printJSON(out)
	} else {
		err = printTable(out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region rows

type listing struct {
	Algorithm string `json:"chain_algorithm"`
	Entries   int    `json:"entries"`
	Head      string `json:"head"`
	Rows      []row  `json:"rows"`
}

type row struct {
	Seq        uint64 `json:"seq"`
	ID         string `json:"id"`
	Committed  bool   `json:"committed"`
	Kind       string `json:"kind"`
	JobID      string `json:"job_id,omitempty"`
	Summary    string `json:"summary"`
	Token      string `json:"token,omitempty"`
	Integrity  string `json:"integrity"`
	Chain      string `json:"chain"`
	AppendedAt string `json:"appended_at"`
}

func toRow(e wal.Entry) row {
	r := row{
		Seq:        e.Seq,
		ID:         e.ID.String(),
		Committed:  e.Committed,
		Integrity:  fmt.Sprintf("%016x", e.IntegrityState),
		Chain:      hex.EncodeToString(e.Chain[:]),
		AppendedAt: e.AppendedAt.UTC().Format(time.RFC3339),
	}
	rec, err := logging.DecodeRecord(e.Payload)
	if err != nil {
		r.Kind = "undecodable"
		r.Summary = err.Error()
		return r
	}
	switch rec := rec.(type) {
	case logging.DecisionRecord:
		r.Kind = string(logging.KindDecision)
		r.JobID = rec.JobID
		r.Token = rec.Token.String()
		verdict := "rejected"
		if rec.Admitted {
			verdict = "admitted " + rec.EffectiveMode
		}
		r.Summary = fmt.Sprintf("%s %s (%s)", rec.RequestedMode, verdict, rec.Regime)
	case logging.TransitionRecord:
		r.Kind = string(logging.KindTransition)
		r.JobID = rec.JobID
		r.Token = rec.Token.String()
		r.Summary = fmt.Sprintf("%s -> %s", rec.From, rec.To)
	}
	return r
}

// #endregion rows

// #region output

func printTable(l listing) error {
	fmt.Printf("WAL: %d entries, chain %s, head %s\n\n", l.Entries, l.Algorithm, shortID(l.Head))
	if len(l.Rows) == 0 {
		fmt.Println("no entries")
		return nil
	}
	fmt.Printf("%6s  %-8s  %-4s  %-10s  %-8s  %-24s  %-34s  %s\n",
		"Seq", "ID", "Com", "Kind", "Job", "Token", "Summary", "Time")
	fmt.Printf("%6s+-%-8s+-%-4s+-%-10s+-%-8s+-%-24s+-%-34s+-%s\n",
		"------", "--------", "----", "----------", "--------", "------------------------",
		"----------------------------------", "--------------------")
	for _, r := range l.Rows {
		committed := "no"
		if r.Committed {
			committed = "yes"
		}
		fmt.Printf("%6d  %-8s  %-4s  %-10s  %-8s  %-24s  %-34s  %s\n",
			r.Seq, shortID(r.ID), committed, r.Kind, shortID(r.JobID), r.Token, r.Summary, r.AppendedAt)
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
