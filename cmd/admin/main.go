// Command admin queries a hive database offline: entity overview, event log,
// character state and ticket history, plus the idempotency key sweep.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"hivesync.gg/internal/persistence/store"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "overview":
			overviewCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "character":
			characterCmd(os.Args[2:])
			return
		case "tickets":
			ticketsCmd(os.Args[2:])
			return
		case "sweep":
			sweepCmd(os.Args[2:])
			return
		case "live":
			liveCmd(os.Args[2:])
			return
		case "bootstrap":
			bootstrapCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <overview|events|character|tickets|sweep|live|bootstrap> [flags]")
	os.Exit(2)
}

func openStore(path string) *store.Store {
	st, err := store.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return st
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func overviewCmd(args []string) {
	fs := flag.NewFlagSet("overview", flag.ExitOnError)
	dbPath := fs.String("db", "./data/hive.db", "sqlite database path")
	_ = fs.Parse(args)

	st := openStore(*dbPath)
	defer st.Close()
	o, err := st.Overview(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "overview:", err)
		os.Exit(1)
	}
	printJSON(o)
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dbPath := fs.String("db", "./data/hive.db", "sqlite database path")
	typ := fs.String("type", "", "event type filter")
	serverID := fs.String("server", "", "server_id filter")
	objectID := fs.String("object", "", "object_id filter")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	st := openStore(*dbPath)
	defer st.Close()
	evs, err := st.RecentEvents(context.Background(), store.EventFilter{
		Limit:    *limit,
		Type:     *typ,
		ServerID: *serverID,
		ObjectID: *objectID,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "events:", err)
		os.Exit(1)
	}
	for _, e := range evs {
		b, _ := json.Marshal(e)
		fmt.Println(string(b))
	}
}

func characterCmd(args []string) {
	fs := flag.NewFlagSet("character", flag.ExitOnError)
	dbPath := fs.String("db", "./data/hive.db", "sqlite database path")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin character [-db path] <character_id>")
		os.Exit(2)
	}
	st := openStore(*dbPath)
	defer st.Close()
	c, err := st.GetCharacter(context.Background(), strings.TrimSpace(fs.Arg(0)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "character:", err)
		os.Exit(1)
	}
	printJSON(map[string]any{
		"id":                 c.ID,
		"player_id":          c.PlayerID,
		"cluster_id":         c.ClusterID,
		"owned_by_server":    c.OwnedByServer,
		"life_state":         c.LifeState,
		"position":           json.RawMessage(orNullJSON(c.Position)),
		"stats":              json.RawMessage(orNullJSON(c.Stats)),
		"inventory":          json.RawMessage(orNullJSON(c.Inventory)),
		"inventory_checksum": c.Checksum,
		"created_at":         c.CreatedAt,
		"last_seen_at":       c.LastSeenAt,
	})
}

func ticketsCmd(args []string) {
	fs := flag.NewFlagSet("tickets", flag.ExitOnError)
	dbPath := fs.String("db", "./data/hive.db", "sqlite database path")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin tickets [-db path] <character_id>")
		os.Exit(2)
	}
	st := openStore(*dbPath)
	defer st.Close()
	ts, err := st.TicketsForCharacter(context.Background(), strings.TrimSpace(fs.Arg(0)), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tickets:", err)
		os.Exit(1)
	}
	printJSON(ts)
}

func sweepCmd(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	dbPath := fs.String("db", "./data/hive.db", "sqlite database path")
	olderThan := fs.Duration("older_than", 24*time.Hour, "delete idempotency keys older than this")
	_ = fs.Parse(args)

	st := openStore(*dbPath)
	defer st.Close()
	n, err := st.SweepIdempotencyKeys(context.Background(), time.Now().UTC().Add(-*olderThan))
	if err != nil {
		fmt.Fprintln(os.Stderr, "sweep:", err)
		os.Exit(1)
	}
	fmt.Printf("removed %d idempotency keys\n", n)
}

func orNullJSON(s string) string {
	if strings.TrimSpace(s) == "" {
		return "null"
	}
	return s
}
