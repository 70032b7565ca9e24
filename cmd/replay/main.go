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
	dbPath := flag.String("db", "", "path to a buildgate WAL database (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	policyPath := flag.String("policy", "", "policy file for DB mode (default: built-in policy)")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		fmt.Fprintln(os.Stderr, "       replay --db path/to/buildgate.db [--policy policy.toml]")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath)
	} else {
		exitCode = runDBMode(*dbPath, *policyPath)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region modes

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	return replayAndCompare(f)
}

// runDBMode rebuilds a fixture from the committed decisions in the WAL and
// checks that a fresh replay reaches the same outcomes.
func runDBMode(dbPath, policyPath string) int {
	pf := config.DefaultPolicyFile()
	if policyPath != "" {
		loaded, err := config.LoadPolicyFile(policyPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load policy: %v\n", err)
			return 2
		}
		pf = loaded
	}

	backend, err := wal.NewSQLiteBackend(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	log, err := wal.Open(backend)
	if err != nil {
		backend.Close()
		fmt.Fprintf(os.Stderr, "open wal: %v\n", err)
		return 2
	}
	defer log.Close()

	f, err := replay.FromEntries(log.Entries(), pf.Policy, pf.Admission)
	if err != nil {
		fmt.Fprintf(os.Stderr, "extract decisions: %v\n", err)
		return 2
	}
	return replayAndCompare(f)
}

// #endregion modes

// #region compare

func replayAndCompare(f *replay.Fixture) int {
	run, err := replay.Replay(*f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	fmt.Printf("%-38s| %-10s| %-24s| %-24s| %s\n", "Job", "Regime", "Expected", "Replayed", "Match")
	fmt.Printf("%-38s+%-11s+%-25s+%-25s+%s\n",
		"--------------------------------------", "-----------", "-------------------------",
		"-------------------------", "------")

	mismatches := replay.Compare(*f, run)
	bad := make(map[int]bool, len(mismatches))
	for _, m := range mismatches {
		if m.Index >= 0 {
			bad[m.Index] = true
		}
	}
	total := min(len(f.ExpectedResults), len(run.Results))
	for i := range total {
		exp, got := f.ExpectedResults[i], run.Results[i]
		match := "OK"
		if bad[i] {
			match = "DIFF"
		}
		fmt.Printf("%-38s| %-10s| %-24s| %-24s| %s\n",
			got.JobID, got.Regime, outcome(exp.Error, exp.Token.String()), outcome(got.Error, got.Token.String()), match)
	}

	s := replay.Summarize(run)
	fmt.Printf("\nSummary: %d total, %d admitted (%d fail_soft), %d rejected, %d refused, %d transitions\n",
		s.Total, s.Admitted, s.FailSoft, s.Rejected, s.Refused, s.Transitions)
	fmt.Printf("Signature: %s", s.Signature)
	if f.ExpectedSignature != "" {
		fmt.Printf(" (expected %s)", f.ExpectedSignature)
	}
	fmt.Println()

	if len(mismatches) > 0 {
		fmt.Println()
		for _, m := range mismatches {
			fmt.Printf("  %s\n", m)
		}
		fmt.Printf("\nDIVERGED: %d mismatches\n", len(mismatches))
		return 1
	}
	fmt.Println("\nAll results match.")
	return 0
}

func outcome(errCode, token string) string {
	if errCode != "" {
		return errCode
	}
	return token
}

// #endregion compare
