// Command clearstalelock is the operator escape hatch for a build lock
// left behind by a crashed process (§4.G, §4.J). One-shot operational
// script, mirroring the teacher's cmd/tools one-shot main style.
package main

import (
	"flag"
	"fmt"
	"log"

	"ledgerwarehouse/internal/config"
	"ledgerwarehouse/internal/lock"
)

func main() {
	var name string
	flag.StringVar(&name, "name", "", "lock name to clear, e.g. vote_request_index")
	flag.Parse()

	if name == "" {
		log.Fatal("--name is required")
	}

	dataDir := config.DataRoot()
	info, held, err := lock.Read(dataDir, name)
	if err != nil {
		log.Fatalf("read lock %q: %v", name, err)
	}
	if !held {
		fmt.Printf("no lock file found for %q\n", name)
		return
	}

	fmt.Printf("clearing lock %q held by pid %d since %s\n", name, info.PID, info.StartedAt)
	if err := lock.ClearStale(dataDir, name); err != nil {
		log.Fatalf("clear lock %q: %v", name, err)
	}
	fmt.Printf("lock %q cleared\n", name)
}
