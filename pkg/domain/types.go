package domain

import "time"

type BookStatus string

const (
	StatusAvailable BookStatus = "AVAILABLE"
	StatusRequested BookStatus = "REQUESTED"
	StatusBorrowed  BookStatus = "BORROWED"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestAccepted  RequestStatus = "ACCEPTED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether a request status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == RequestAccepted || s == RequestRejected || s == RequestCancelled
}

type BookGenre string

const (
	GenreFiction        BookGenre = "FICTION"
	GenreNonFiction     BookGenre = "NON_FICTION"
	GenreScienceFiction BookGenre = "SCIENCE_FICTION"
	GenreFantasy        BookGenre = "FANTASY"
	GenreMystery        BookGenre = "MYSTERY"
	GenreThriller       BookGenre = "THRILLER"
	GenreRomance        BookGenre = "ROMANCE"
	GenreHistory        BookGenre = "HISTORY"
	GenreBiography      BookGenre = "BIOGRAPHY"
	GenrePoetry         BookGenre = "POETRY"
	GenreSelfHelp       BookGenre = "SELF_HELP"
	GenreChildren       BookGenre = "CHILDREN"
)

// Genres lists every recognized genre in a stable order.
func Genres() []BookGenre {
	return []BookGenre{
		GenreFiction, GenreNonFiction, GenreScienceFiction, GenreFantasy,
		GenreMystery, GenreThriller, GenreRomance, GenreHistory,
		GenreBiography, GenrePoetry, GenreSelfHelp, GenreChildren,
	}
}

// ValidGenre reports whether g is one of the recognized genres.
func ValidGenre(g BookGenre) bool {
	for _, known := range Genres() {
		if g == known {
			return true
		}
	}
	return false
}

type Book struct {
	ID           string     `json:"id"`
	Title        string     `json:"bookTitle"`
	Author       string     `json:"authorName"`
	Genre        BookGenre  `json:"bookGenre"`
	Year         int        `json:"publicationYear"`
	Note         string     `json:"noteContent,omitempty"`
	DisplayTitle string     `json:"customizedTitle,omitempty"`
	Status       BookStatus `json:"bookStatus"`
	OwnerID      string     `json:"currentOwnerId"`
	Enlisted     bool       `json:"isEnlisted"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type BorrowRequest struct {
	ID          string        `json:"id"`
	BookID      string        `json:"bookId"`
	RequesterID string        `json:"requesterId"`
	OwnerID     string        `json:"ownerId"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requestedAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
}

// OwnershipRecord is one append-only ledger entry. Sequence is monotonic
// per book starting at 1; the highest sequence is the current custodian.
type OwnershipRecord struct {
	ID       string    `json:"id"`
	BookID   string    `json:"bookId"`
	OwnerID  string    `json:"ownerId"`
	Sequence int       `json:"sequence"`
	From     time.Time `json:"from"`
}

type User struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Username          string            `json:"username"`
	Email             string            `json:"email"`
	PasswordHash      string            `json:"-"`
	Pincode           string            `json:"pincode,omitempty"`
	Area              string            `json:"area,omitempty"`
	City              string            `json:"city,omitempty"`
	State             string            `json:"state,omitempty"`
	Country           string            `json:"country,omitempty"`
	SecurityQuestions map[string]string `json:"-"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Review is one user's integer rating of a book.
type Review struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	UserID    string    `json:"userId"`
	Rating    int       `json:"ratings"`
	CreatedAt time.Time `json:"createdAt"`
}

// OwnerSnapshot is the subset of user fields embedded in book reads and
// denormalized onto discovery results.
type OwnerSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Area     string `json:"area,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
}

func SnapshotOf(u User) OwnerSnapshot {
	return OwnerSnapshot{
		ID:       u.ID,
		Name:     u.Name,
		Username: u.Username,
		Area:     u.Area,
		City:     u.City,
		State:    u.State,
	}
}
