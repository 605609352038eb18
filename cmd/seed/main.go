// Command seed provisions a local development database: one tenant, one
// cluster, two servers and a claimed character with a starter inventory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"hivesync.gg/internal/hive"
	"hivesync.gg/internal/hive/idem"
	"hivesync.gg/internal/hive/settings"
	"hivesync.gg/internal/hive/state"
	"hivesync.gg/internal/persistence/store"
)

func main() {
	var (
		dbPath      = flag.String("db", "./data/hive.db", "sqlite database path")
		platformUID = flag.String("uid", "steam:76561198000000001", "platform uid for the seeded character")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[seed] ", log.LstdFlags)

	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	cfg := settings.Defaults()
	guard := idem.NewGuard(idem.NewMemoryStore(), st, cfg.IdempotencyTTL(), logger)
	svc := hive.New(hive.Options{Store: st, Guard: guard, Settings: cfg, Logger: logger})

	ctx := context.Background()
	boot, err := svc.Bootstrap(ctx)
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	logger.Printf("cluster %s servers %v (created=%v)", boot.ClusterID, boot.ServerIDs, boot.Created)

	claim, err := svc.Claim(ctx, hive.ClaimRequest{
		PlatformUID: *platformUID,
		ClusterID:   boot.ClusterID,
		ServerID:    boot.ServerIDs[0],
		Position:    map[string]any{"x": 7500.0, "y": 300.0, "z": 7500.0},
		Stats:       map[string]any{"health": 100.0, "blood": 5000.0},
	})
	if err != nil {
		logger.Fatalf("claim: %v", err)
	}

	starter := map[string]any{
		"belt": map[string]any{
			"knife": map[string]any{"id": "itm-knife", "durability": 1.0},
		},
		"backpack": map[string]any{
			"items": []any{
				map[string]any{"id": "itm-bandage", "cls": "bandage", "qty": 2.0},
				map[string]any{"id": "itm-canteen", "cls": "canteen", "fill": 0.8},
			},
		},
	}
	digest, err := state.DigestAny(starter)
	if err != nil {
		logger.Fatalf("digest: %v", err)
	}
	res, err := svc.SetInventory(ctx, hive.SetRequest{
		CharacterID:    claim.CharacterID,
		ServerID:       boot.ServerIDs[0],
		Slots:          starter,
		ClientChecksum: digest,
		IdempotencyKey: "seed-" + claim.CharacterID,
	})
	if err != nil {
		logger.Fatalf("set inventory: %v", err)
	}
	if res.Conflict {
		logger.Fatalf("set inventory conflicted: %+v", res.Details)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"cluster_id":   boot.ClusterID,
		"server_ids":   boot.ServerIDs,
		"player_id":    claim.PlayerID,
		"character_id": claim.CharacterID,
		"checksum":     res.Checksum,
	}, "", "  ")
	fmt.Println(string(out))
}
