package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nycdan-n2p/trivia-live/go/internal/dbconfig"
)

// SeedSession mirrors the JSON fixture structure
type SeedSession struct {
	ID               string       `json:"id"`
	Phase            string       `json:"phase"`
	NumSponsorBreaks int          `json:"num_sponsor_breaks"`
	Players          []SeedPlayer `json:"players"`
}

// SeedPlayer is one demo roster entry
type SeedPlayer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

func main() {
	// 1) Load the JSON fixture
	path := "go/internal/assets/demo_sessions.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var sessions []SeedSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert and count
	var (
		sessionsInserted int
		playersInserted  int
		skipped          int
		errs             int
	)

	for _, s := range sessions {
		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO sessions (id, phase, current_question, num_sponsor_breaks)
            VALUES ($1, $2, 0, $3)
            ON CONFLICT (id) DO NOTHING
        `, s.ID, s.Phase, s.NumSponsorBreaks)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting session %s: %v\n", s.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			sessionsInserted++
		} else {
			skipped++
		}

		for _, p := range s.Players {
			cmdTag, err := pool.Exec(context.Background(), `
                INSERT INTO players (id, session_id, name, score)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (session_id, name) DO NOTHING
            `, p.ID, s.ID, p.Name, p.Score)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error inserting player %s: %v\n", p.Name, err)
				errs++
				continue
			}
			if cmdTag.RowsAffected() == 1 {
				playersInserted++
			} else {
				skipped++
			}
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Session seed complete: %d sessions, %d players inserted, %d skipped, %d errors\n",
		sessionsInserted, playersInserted, skipped, errs,
	)
}
