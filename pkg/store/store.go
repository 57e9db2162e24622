package store

import (
	"errors"
	"time"

	"shelfshare/pkg/domain"
)

var (
	// ErrConflict signals a compare-and-swap that observed unexpected
	// prior state. Callers map it to their own conflict semantics; it is
	// never retried.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrNotFound signals an absent row inside a composite operation.
	ErrNotFound = errors.New("record not found")
)

// Store defines persistence for users, books, borrow requests, and the
// ownership ledger. Composite operations are atomic: they either apply
// all their writes or none.
type Store interface {
	// users
	CreateUser(domain.User) error
	HasUsername(username string) (bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UpdatePasswordHash(id, hash string) error

	// books
	// CreateBookWithHistory inserts the book and its first ownership
	// record (sequence 1) in one atomic unit.
	CreateBookWithHistory(book domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooksByOwner(ownerID string) ([]domain.Book, error)
	ListEnlistedBooks() ([]domain.Book, error)
	// SetBookStatus is the compare-and-swap status mutation path.
	// It returns ErrConflict when the current status != expected.
	SetBookStatus(id string, expected, next domain.BookStatus) error
	SetEnlisted(id string, enlisted bool) error

	// borrow requests
	// OpenRequest CAS-flips the book AVAILABLE -> REQUESTED and inserts
	// the PENDING request; the race loser gets ErrConflict and no row.
	OpenRequest(req domain.BorrowRequest) error
	GetRequest(id string) (domain.BorrowRequest, bool, error)
	FindPendingRequest(bookID, requesterID string) (domain.BorrowRequest, bool, error)
	ListRequestsByOwner(ownerID string, status domain.RequestStatus) ([]domain.BorrowRequest, error)
	ListRequestsByRequester(requesterID string, status domain.RequestStatus) ([]domain.BorrowRequest, error)
	ListPendingRequestsBefore(cutoff time.Time) ([]domain.BorrowRequest, error)
	// CloseRequest resolves a PENDING request to REJECTED or CANCELLED
	// and CAS-returns the book REQUESTED -> AVAILABLE, atomically.
	CloseRequest(id string, next domain.RequestStatus, at time.Time) error
	// AcceptRequest resolves a PENDING request to ACCEPTED, appends the
	// next ownership record, transfers book ownership, and CAS-flips the
	// book REQUESTED -> BORROWED, all in one atomic unit.
	AcceptRequest(id string, at time.Time) error

	// ownership ledger (read path; appends happen only inside
	// CreateBookWithHistory and AcceptRequest)
	HistoryOf(bookID string) ([]domain.OwnershipRecord, error)

	// reviews
	AddReview(domain.Review) error
	ListReviewsByBook(bookID string) ([]domain.Review, error)
}
