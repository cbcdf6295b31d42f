// Command populate seeds the database with fake users, contents, and
// ratings for local development and load experiments.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ratewall/ratewall/internal/auth"
	"github.com/ratewall/ratewall/internal/config"
	"github.com/ratewall/ratewall/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags)

	_ = godotenv.Load()

	users := flag.Int("users", 50, "number of users to create")
	contents := flag.Int("contents", 20, "number of contents to create")
	ratingsPerContent := flag.Int("ratings", 30, "max ratings per content")
	password := flag.String("password", "password123", "password assigned to every seeded user")
	flag.Parse()

	cfg, err := config.LoadProcessor()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	st := store.NewPGStore(db)
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	userIDs := make([]int64, 0, *users)
	for i := 0; i < *users; i++ {
		u, err := st.CreateUser(ctx, fmt.Sprintf("user_%04d", i), hash)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				existing, err := st.GetUserByUsername(ctx, fmt.Sprintf("user_%04d", i))
				if err != nil {
					log.Fatalf("load existing user: %v", err)
				}
				userIDs = append(userIDs, existing.ID)
				continue
			}
			log.Fatalf("create user: %v", err)
		}
		userIDs = append(userIDs, u.ID)
	}
	log.Printf("seeded %d users", len(userIDs))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < *contents; i++ {
		c, err := st.CreateContent(ctx,
			fmt.Sprintf("Sample content #%d", i+1),
			fmt.Sprintf("Generated body for sample content #%d.", i+1),
		)
		if err != nil {
			log.Fatalf("create content: %v", err)
		}

		n := rng.Intn(*ratingsPerContent + 1)
		raters := rng.Perm(len(userIDs))
		if n > len(raters) {
			n = len(raters)
		}
		for _, idx := range raters[:n] {
			_, err := st.UpsertRating(ctx, store.RatingUpsert{
				ContentID:        c.ID,
				UserID:           userIDs[idx],
				Value:            rng.Intn(6),
				RateLimitPerHour: 10000,
			})
			if err != nil {
				log.Fatalf("seed rating for content %d: %v", c.ID, err)
			}
		}
		log.Printf("seeded content %d with %d ratings", c.ID, n)
	}
}
