// journal_report prints per-session results from the trade journal.
//
//	go run ./scripts/journal_report -db ./data/trades.db -n 10
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/db"
)

func main() {
	dbPath := flag.String("db", "./data/trades.db", "journal database path")
	limit := flag.Int("n", 20, "number of recent sessions (0 = all)")
	session := flag.String("session", "", "list the trades of one session instead")
	flag.Parse()

	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if *session != "" {
		trades, err := database.ListTrades(ctx, *session, 0)
		if err != nil {
			log.Fatalf("list trades: %v", err)
		}
		fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tENTRY\tEXIT\tPNL\tREASON\tOPENED")
		for _, t := range trades {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.6f\t%.6f\t%.4f\t%s\t%s\n",
				t.ID, t.Symbol, t.Side, t.EntryPrice, t.ExitPrice, t.Profit, t.CloseReason, t.EntryTime.Format(time.RFC3339))
		}
		return
	}

	sessions, err := database.ListSessions(ctx, *limit)
	if err != nil {
		log.Fatalf("list sessions: %v", err)
	}
	fmt.Fprintln(w, "SESSION\tMODE\tHOST\tSTARTED\tTRADES\tWINS\tLOSSES\tNET PNL")
	for _, s := range sessions {
		stats, err := database.SessionStats(ctx, s.ID)
		if err != nil {
			log.Printf("stats %s: %v", s.ID, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.4f\n",
			s.ID, s.Mode, s.Host, s.StartedAt.Format(time.RFC3339), stats.Trades, stats.Wins, stats.Losses, stats.NetPnL)
	}
}
