package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"shelfshare/internal/util"
	"shelfshare/pkg/domain"
	"shelfshare/pkg/notify"
	"shelfshare/pkg/store"
)

// App holds the catalog engine: persistent state, the discovery index,
// the event publisher, and the per-book arbitration locks.
type App struct {
	store     store.Store
	publisher notify.Publisher
	index     *Index
	locks     bookLocks
	logger    *slog.Logger
}

func New(st store.Store, publisher notify.Publisher, logger *slog.Logger) (*App, error) {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		store:     st,
		publisher: publisher,
		index:     NewIndex(),
		logger:    logger,
	}
	if err := a.index.Rebuild(st); err != nil {
		return nil, err
	}
	return a, nil
}

// Index exposes the discovery index for the read-only query surface.
func (a *App) Index() *Index {
	return a.index
}

func (a *App) reindex() {
	if err := a.index.Rebuild(a.store); err != nil {
		a.logger.Error("discovery reindex failed", "error", err)
	}
}

// CreateBookInput carries the owner-supplied metadata for a new book.
type CreateBookInput struct {
	Title        string           `json:"bookTitle"`
	Author       string           `json:"authorName"`
	Genre        domain.BookGenre `json:"bookGenre"`
	Year         int              `json:"publicationYear"`
	Note         string           `json:"noteContent"`
	DisplayTitle string           `json:"customizedTitle"`
}

func (in CreateBookInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Validationf("bookTitle is required")
	}
	if strings.TrimSpace(in.Author) == "" {
		return domain.Validationf("authorName is required")
	}
	if !domain.ValidGenre(in.Genre) {
		return domain.Validationf("unrecognized bookGenre %q", in.Genre)
	}
	if strings.TrimSpace(in.Note) == "" {
		return domain.Validationf("noteContent is required")
	}
	if strings.TrimSpace(in.DisplayTitle) == "" {
		return domain.Validationf("customizedTitle is required")
	}
	if in.Year < 1000 || in.Year > time.Now().Year()+1 {
		return domain.Validationf("publicationYear %d is out of range", in.Year)
	}
	return nil
}

// CreateBook registers a book under ownerID. The book starts AVAILABLE
// and enlisted, and its ownership ledger opens with the creator at
// sequence 1.
func (a *App) CreateBook(ownerID string, in CreateBookInput) (domain.Book, error) {
	if err := in.validate(); err != nil {
		return domain.Book{}, err
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:           util.NewID(),
		Title:        strings.TrimSpace(in.Title),
		Author:       strings.TrimSpace(in.Author),
		Genre:        in.Genre,
		Year:         in.Year,
		Note:         strings.TrimSpace(in.Note),
		DisplayTitle: strings.TrimSpace(in.DisplayTitle),
		Status:       domain.StatusAvailable,
		OwnerID:      ownerID,
		Enlisted:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateBookWithHistory(book); err != nil {
		return domain.Book{}, err
	}
	a.reindex()
	return book, nil
}

// BookDetail is the single-book read model: the book, its current
// custodian, and every prior holder in ledger order.
type BookDetail struct {
	Book           domain.Book              `json:"book"`
	Owner          domain.OwnerSnapshot     `json:"owner"`
	History        []domain.OwnershipRecord `json:"history"`
	PreviousOwners []domain.OwnerSnapshot   `json:"previousOwners"`
}

func (a *App) GetBook(id string) (BookDetail, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return BookDetail{}, err
	}
	if !ok {
		return BookDetail{}, domain.NotFoundf("book %s not found", id)
	}
	history, err := a.store.HistoryOf(id)
	if err != nil {
		return BookDetail{}, err
	}

	detail := BookDetail{Book: book, History: history}
	if owner, ok, err := a.store.GetUserByID(book.OwnerID); err != nil {
		return BookDetail{}, err
	} else if ok {
		detail.Owner = domain.SnapshotOf(owner)
	}
	for _, rec := range history {
		if rec.OwnerID == book.OwnerID {
			continue
		}
		prev, ok, err := a.store.GetUserByID(rec.OwnerID)
		if err != nil {
			return BookDetail{}, err
		}
		if ok {
			detail.PreviousOwners = append(detail.PreviousOwners, domain.SnapshotOf(prev))
		}
	}
	return detail, nil
}

// ListOwnedBooks returns every book currently held by userID, whatever
// its status.
func (a *App) ListOwnedBooks(userID string) ([]domain.Book, error) {
	return a.store.ListBooksByOwner(userID)
}

// ListBorrowedBooks returns the books userID currently holds that it did
// not register itself: BORROWED status with a different original owner.
func (a *App) ListBorrowedBooks(userID string) ([]domain.Book, error) {
	books, err := a.store.ListBooksByOwner(userID)
	if err != nil {
		return nil, err
	}
	borrowed := make([]domain.Book, 0, len(books))
	for _, book := range books {
		if book.Status != domain.StatusBorrowed {
			continue
		}
		history, err := a.store.HistoryOf(book.ID)
		if err != nil {
			return nil, err
		}
		if len(history) > 0 && history[0].OwnerID != userID {
			borrowed = append(borrowed, book)
		}
	}
	return borrowed, nil
}

// SetEnlisted toggles discovery visibility. Only the current custodian
// may flip it; the borrow state machine is unaffected either way.
func (a *App) SetEnlisted(bookID, userID string, enlisted bool) (domain.Book, error) {
	unlock := a.locks.lock(bookID)
	defer unlock()

	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, domain.NotFoundf("book %s not found", bookID)
	}
	if book.OwnerID != userID {
		return domain.Book{}, domain.Authorizationf("only the current owner may change the listing")
	}
	if err := a.store.SetEnlisted(bookID, enlisted); err != nil {
		return domain.Book{}, err
	}
	book.Enlisted = enlisted
	a.reindex()
	return book, nil
}

func (a *App) publish(ctx context.Context, eventType string, req domain.BorrowRequest) {
	event := notify.Event{
		Type:        eventType,
		BookID:      req.BookID,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		OwnerID:     req.OwnerID,
		At:          time.Now().UTC(),
	}
	if err := a.publisher.Publish(ctx, event); err != nil {
		a.logger.Error("event publish failed", "type", eventType, "requestId", req.ID, "error", err)
	}
}

// mapStoreErr translates store sentinels into caller-facing kinds.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrConflict):
		return domain.Conflictf("the book changed under a concurrent update")
	case errors.Is(err, store.ErrNotFound):
		return domain.NotFoundf("record not found")
	default:
		return err
	}
}
