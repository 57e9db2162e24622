package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"shelfshare/internal/util"
	"shelfshare/pkg/auth"
	"shelfshare/pkg/domain"
	"shelfshare/pkg/store"
)

// Seeds a local database with demo accounts and books so the services
// have something to serve on first run. Safe to re-run: existing
// usernames are skipped.
func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres connection string")
	password := flag.String("password", "sh3lfshare", "password for every seeded account")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("seed: -dsn or DATABASE_URL is required")
	}

	st, err := store.NewGormStore(*dsn)
	if err != nil {
		log.Fatalf("seed: open store: %v", err)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("seed: hash password: %v", err)
	}

	users := []domain.User{
		{Name: "Asha Kulkarni", Username: "asha", Email: "asha@example.com", Pincode: "411038", Area: "Kothrud", City: "Pune", State: "Maharashtra", Country: "India"},
		{Name: "Rohan Mehta", Username: "rohan", Email: "rohan@example.com", Pincode: "400053", Area: "Andheri", City: "Mumbai", State: "Maharashtra", Country: "India"},
		{Name: "Divya Nair", Username: "divya", Email: "divya@example.com", Pincode: "560038", Area: "Indiranagar", City: "Bengaluru", State: "Karnataka", Country: "India"},
	}

	ids := make(map[string]string, len(users))
	for i := range users {
		u := users[i]
		taken, err := st.HasUsername(u.Username)
		if err != nil {
			log.Fatalf("seed: check username %s: %v", u.Username, err)
		}
		if taken {
			existing, _, err := st.GetUserByUsername(u.Username)
			if err != nil {
				log.Fatalf("seed: fetch existing user %s: %v", u.Username, err)
			}
			ids[u.Username] = existing.ID
			fmt.Printf("user %s already seeded\n", u.Username)
			continue
		}
		now := time.Now().UTC()
		u.ID = util.NewID()
		u.PasswordHash = hash
		u.SecurityQuestions = map[string]string{"What was your first pet's name?": "biscuit"}
		u.CreatedAt = now
		u.UpdatedAt = now
		if err := st.CreateUser(u); err != nil {
			log.Fatalf("seed: create user %s: %v", u.Username, err)
		}
		ids[u.Username] = u.ID
		fmt.Printf("seeded user %s\n", u.Username)
	}

	books := []struct {
		owner string
		book  domain.Book
	}{
		{"asha", domain.Book{Title: "A Wizard of Earthsea", Author: "Ursula K. Le Guin", Genre: domain.GenreFantasy, Year: 1968, Note: "hardcover", DisplayTitle: "Earthsea #1"}},
		{"asha", domain.Book{Title: "The Dispossessed", Author: "Ursula K. Le Guin", Genre: domain.GenreScienceFiction, Year: 1974, Note: "paperback", DisplayTitle: "The Dispossessed"}},
		{"rohan", domain.Book{Title: "Midnight's Children", Author: "Salman Rushdie", Genre: domain.GenreFiction, Year: 1981, Note: "first paperback printing", DisplayTitle: "Midnight's Children"}},
		{"rohan", domain.Book{Title: "The Hound of the Baskervilles", Author: "Arthur Conan Doyle", Genre: domain.GenreMystery, Year: 1902, Note: "well loved", DisplayTitle: "Baskervilles"}},
		{"divya", domain.Book{Title: "Train to Pakistan", Author: "Khushwant Singh", Genre: domain.GenreHistory, Year: 1956, Note: "well-worn copy with margin notes", DisplayTitle: "Train to Pakistan"}},
	}

	existing := map[string]bool{}
	for _, username := range []string{"asha", "rohan", "divya"} {
		owned, err := st.ListBooksByOwner(ids[username])
		if err != nil {
			log.Fatalf("seed: list books for %s: %v", username, err)
		}
		for _, b := range owned {
			existing[b.Title] = true
		}
	}

	for _, entry := range books {
		if existing[entry.book.Title] {
			fmt.Printf("book %q already seeded\n", entry.book.Title)
			continue
		}
		now := time.Now().UTC()
		b := entry.book
		b.ID = util.NewID()
		b.Status = domain.StatusAvailable
		b.OwnerID = ids[entry.owner]
		b.Enlisted = true
		b.CreatedAt = now
		b.UpdatedAt = now
		if err := st.CreateBookWithHistory(b); err != nil {
			log.Fatalf("seed: create book %q: %v", b.Title, err)
		}
		fmt.Printf("seeded book %q for %s\n", b.Title, entry.owner)
	}
}
