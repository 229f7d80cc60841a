package db

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oggyb/cinematch/internal/favorites"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/store"
)

// demoNamespace keeps demo user ids stable across runs so reseeding
// overwrites instead of piling up users.
var demoNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://cinematch.local/demo"))

var demoLocations = []string{"London", "Berlin", "Lisbon"}

// DemoUserID returns the stable id of the i-th demo user.
func DemoUserID(i int) string {
	return uuid.NewSHA1(demoNamespace, []byte(fmt.Sprintf("user%d", i))).String()
}

// ClearTables wipes every cinematch table. Only the gorm backend needs it;
// the other backends are reseeded in place.
func ClearTables(db *gorm.DB) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(models[i]).Error; err != nil {
			return fmt.Errorf("failed to clear %T: %w", models[i], err)
		}
	}
	log.Println("Cleared existing data")
	return nil
}

// SeedDemoData populates any backend with demo users and overlapping
// favorites.
//
// Behavior:
//  1. Creates n users, the first half male seeking female, the rest the
//     other way round, spread over a few locations.
//  2. Gives every user 4 to 8 titles drawn from a small movie/TV pool, so
//     plenty of pairs cross the content threshold.
//  3. Rebuilds each user's title index entries.
//
// Matches are not precomputed; the first SearchMatches creates them.
func SeedDemoData(ctx context.Context, ds store.DataStore, favs *favorites.Index, n int, r *rand.Rand) error {
	pool := make([]model.Title, 0, 25)
	for i := 1; i <= 15; i++ {
		pool = append(pool, model.Title{Category: model.CategoryMovie, ID: fmt.Sprintf("%d", 600+i), Name: fmt.Sprintf("Movie %d", i)})
	}
	for i := 1; i <= 10; i++ {
		pool = append(pool, model.Title{Category: model.CategoryTV, ID: fmt.Sprintf("%d", 1400+i), Name: fmt.Sprintf("Show %d", i)})
	}

	for i := 1; i <= n; i++ {
		u := &model.User{
			ID:            DemoUserID(i),
			DisplayName:   fmt.Sprintf("user%d", i),
			Gender:        model.GenderMale,
			MatchGender:   model.MatchFemale,
			Location:      demoLocations[r.Intn(len(demoLocations))],
			MatchLocation: model.MatchWorldwide,
		}
		if i > n/2 {
			u.Gender, u.MatchGender = model.GenderFemale, model.MatchMale
		}
		if i%4 == 0 {
			u.MatchLocation = model.MatchLocal
		}
		if err := ds.PutUser(ctx, u); err != nil {
			return fmt.Errorf("failed to seed user %d: %w", i, err)
		}

		picks := 4 + r.Intn(5)
		for _, idx := range r.Perm(len(pool))[:picks] {
			if _, err := favs.Add(ctx, u.ID, pool[idx]); err != nil {
				return fmt.Errorf("failed to seed favorite for user %d: %w", i, err)
			}
		}
		if _, err := favs.Reindex(ctx, u.ID); err != nil {
			return fmt.Errorf("failed to reindex user %d: %w", i, err)
		}
	}
	log.Printf("Seeded %d users.", n)
	return nil
}
