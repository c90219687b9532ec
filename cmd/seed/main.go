// Package main seeds the demo-mode store with a book catalog and, optionally,
// demo readers with reviews.
//
// Usage:
//
//	DATA_PATH=~/.shelfnotes go run ./cmd/seed
//	DATA_PATH=~/.shelfnotes go run ./cmd/seed --catalog books.yaml --readers 5
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/shelfnotes/shelfnotes-server/internal/authstate"
	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/backend/local"
	"github.com/shelfnotes/shelfnotes-server/internal/browse"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/logger"
	"github.com/shelfnotes/shelfnotes-server/internal/service"
	"github.com/shelfnotes/shelfnotes-server/internal/validation"
)

var (
	catalogPath    = flag.String("catalog", "", "YAML catalog to load (default: the built-in demo catalog)")
	readers        = flag.Int("readers", 0, "Number of demo readers to create")
	reviewsPerUser = flag.Int("reviews", 3, "Reviews written by each demo reader")
	password       = flag.String("password", "shelfnotes", "Password of the demo readers")
)

var comments = []string{
	"",
	"Could not put it down.",
	"Slow start, but the last third is superb.",
	"Beautifully written.",
	"Not for me, though I see the appeal.",
	"A re-read every few years.",
}

func main() {
	flag.Parse()

	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		dataPath = os.ExpandEnv("$HOME/.shelfnotes")
	}

	fmt.Printf("Opening demo store at: %s\n", dataPath)

	slogger := logger.Discard()
	provider, err := local.Open(local.Options{DataPath: dataPath, SeedPath: *catalogPath, Logger: slogger})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer provider.Close()

	ctx := context.Background()

	catalog, err := loadCatalog(*catalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	inserted, err := provider.SeedBooks(ctx, catalog.Books)
	if err != nil {
		log.Fatalf("Failed to seed books: %v", err)
	}
	fmt.Printf("Catalog: %d entries, %d new\n", len(catalog.Books), inserted)

	if *readers <= 0 {
		return
	}

	books := service.NewBookService(slogger)
	reviews := service.NewReviewService(validation.New(), slogger)
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))

	anon, err := provider.NewClient()
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	all, err := allBooks(ctx, books, anon)
	if err != nil {
		log.Fatalf("Failed to list books: %v", err)
	}
	if len(all) == 0 {
		log.Fatal("No books in the store")
	}

	for n := 1; n <= *readers; n++ {
		email := fmt.Sprintf("reader%d@demo.shelfnotes.local", n)
		user, err := signUp(ctx, provider, email, fmt.Sprintf("reader_%d", n))
		if err != nil {
			log.Printf("Skipping %s: %v", email, err)
			continue
		}
		fmt.Printf("\nSeeding reviews for %s (%s)\n", user.Username, user.ID)

		for _, idx := range rng.Perm(len(all))[:min(*reviewsPerUser, len(all))] {
			book := all[idx]
			review, err := reviews.SubmitReview(ctx, user.client, user.User, book.ID, service.ReviewInput{
				Rating:  1 + rng.IntN(domain.MaxRating),
				Comment: comments[rng.IntN(len(comments))],
			})
			if err != nil {
				log.Printf("  %s: %v", book.Title, err)
				continue
			}
			fmt.Printf("  %d stars for %s\n", review.Rating, book.Title)
		}
		user.close()
	}
}

func loadCatalog(path string) (*local.Catalog, error) {
	if path == "" {
		return local.DefaultCatalog()
	}
	return local.LoadCatalogFile(path)
}

func allBooks(ctx context.Context, books *service.BookService, client *backend.Client) ([]domain.Book, error) {
	var out []domain.Book
	for page := 1; ; page++ {
		res, err := books.ListBooks(ctx, client, browse.Filters{Page: page})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Books...)
		if len(res.Books) == 0 || len(out) >= res.Total {
			return out, nil
		}
	}
}

// reader is a signed-in demo account.
type reader struct {
	*domain.User
	client *backend.Client
	auth   *authstate.Container
}

func (r *reader) close() { r.auth.Close() }

// signUp registers email, signing in instead when the account exists from
// an earlier run.
func signUp(ctx context.Context, provider *local.Provider, email, username string) (*reader, error) {
	client, err := provider.NewClient()
	if err != nil {
		return nil, err
	}
	auth := authstate.New(client, logger.Discard())
	auth.Start(ctx)

	err = auth.Register(ctx, email, *password, username)
	if domainerrors.Is(err, domainerrors.ErrDuplicate) {
		err = auth.Login(ctx, email, *password)
	}
	if err != nil {
		auth.Close()
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := auth.Await(waitCtx, authstate.Snapshot.SignedIn)
	if err != nil {
		auth.Close()
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return &reader{User: snap.User, client: client, auth: auth}, nil
}
