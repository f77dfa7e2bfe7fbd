// Command resetcheckpoint clears a single raw_files row's ingested flag
// so the next engine cycle re-ingests it under the same _file_id. One-shot
// operational script, mirroring the teacher's cmd/tools/reset_checkpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"ledgerwarehouse/internal/config"
	"ledgerwarehouse/internal/ingest"
	"ledgerwarehouse/internal/store"
)

func main() {
	var fileID int64
	flag.Int64Var(&fileID, "file-id", 0, "raw_files.file_id to reset")
	flag.Parse()

	if fileID == 0 {
		log.Fatal("--file-id is required")
	}

	dataDir := config.DataRoot()
	storePath := os.Getenv("STORE_PATH")
	if storePath == "" {
		storePath = dataDir + "/warehouse.duckdb"
	}

	st, err := store.Open(storePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	ing := ingest.New(st)
	if err := ing.ResetFile(ctx, fileID); err != nil {
		log.Fatalf("reset file %d: %v", fileID, err)
	}

	fmt.Printf("file %d re-queued for ingestion\n", fileID)
}
