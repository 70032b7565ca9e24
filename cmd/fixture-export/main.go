package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/config"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/replay"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/wal"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to a buildgate WAL database")
	outPath := flag.String("out", "", "output fixture JSON path")
	policyPath := flag.String("policy", "", "policy file the decisions were made under (default: built-in policy)")
	last := flag.Int("last", 0, "export only the N most recent decisions (0 = all)")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/buildgate.db --out path/to/fixture.json [--policy file] [--last N]")
		os.Exit(2)
	}

	if err := run(*dbPath, *policyPath, *outPath, *last); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(dbPath, policyPath, outPath string, last int) error {
	pf := config.DefaultPolicyFile()
	if policyPath != "" {
		loaded, err := config.LoadPolicyFile(policyPath)
		if err != nil {
			return err
		}
		pf = loaded
	}

	backend, err := wal.NewSQLiteBackend(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	log, err := wal.Open(backend)
	if err != nil {
		backend.Close()
		return fmt.Errorf("open wal: %w", err)
	}
	defer log.Close()

	f, err := replay.FromEntries(log.Entries(), pf.Policy, pf.Admission)
	if err != nil {
		return err
	}
	if len(f.Requests) == 0 {
		return fmt.Errorf("no committed decisions in %s", dbPath)
	}
	// Trimming the head changes the starting regime, so the expectations are
	// only kept for full exports.
	if last > 0 && last < len(f.Requests) {
		f.Requests = f.Requests[len(f.Requests)-last:]
		f.ExpectedResults = nil
		f.Description = fmt.Sprintf("exported last %d decisions", last)
	}

	run, err := replay.Replay(*f)
	if err != nil {
		return fmt.Errorf("replay export: %w", err)
	}
	if f.ExpectedResults == nil {
		for _, r := range run.Results {
			f.ExpectedResults = append(f.ExpectedResults, replay.FixtureExpectedResult{
				JobID:         r.JobID,
				Regime:        r.Regime,
				Admitted:      r.Admitted,
				EffectiveMode: r.EffectiveMode,
				Token:         r.Token,
				Error:         r.Error,
			})
		}
	} else if ms := replay.Compare(*f, run); len(ms) > 0 {
		for _, m := range ms {
			fmt.Fprintf(os.Stderr, "  %s\n", m)
		}
		return fmt.Errorf("recorded decisions do not reproduce under this policy (%d mismatches)", len(ms))
	}
	f.ExpectedSignature = fmt.Sprintf("%016x", run.Signature)

	if err := replay.WriteFixture(outPath, f); err != nil {
		return err
	}
	fmt.Printf("Exported %d requests to %s (signature %s)\n", len(f.Requests), outPath, f.ExpectedSignature)
	return nil
}

// #endregion export
