package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"shelfshare/internal/util"
	"shelfshare/pkg/domain"
)

// MemoryStore keeps all state in-process. It implements the same CAS
// semantics as GormStore under a single mutex and serves as the store
// double in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	username map[string]string      // username -> user ID
	books    map[string]domain.Book
	requests map[string]domain.BorrowRequest
	ledger   map[string][]domain.OwnershipRecord // bookID -> records by sequence
	reviews  map[string][]domain.Review          // bookID -> reviews by creation
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		username: make(map[string]string),
		books:    make(map[string]domain.Book),
		requests: make(map[string]domain.BorrowRequest),
		ledger:   make(map[string][]domain.OwnershipRecord),
		reviews:  make(map[string][]domain.Review),
	}
}

func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.username[u.Username]; taken {
		return fmt.Errorf("username %q already exists", u.Username)
	}
	m.users[u.ID] = u
	m.username[u.Username] = u.ID
	return nil
}

func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.username[username]
	return ok, nil
}

func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.username[username]
	if !ok {
		return domain.User{}, false, nil
	}
	user, ok := m.users[id]
	return user, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	return user, ok, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) UpdatePasswordHash(id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

func (m *MemoryStore) CreateBookWithHistory(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; exists {
		return fmt.Errorf("book %q already exists", b.ID)
	}
	m.books[b.ID] = b
	m.ledger[b.ID] = []domain.OwnershipRecord{{
		ID:       util.NewID(),
		BookID:   b.ID,
		OwnerID:  b.OwnerID,
		Sequence: 1,
		From:     b.CreatedAt,
	}}
	return nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[id]
	return book, ok, nil
}

func (m *MemoryStore) ListBooksByOwner(ownerID string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0)
	for _, b := range m.books {
		if b.OwnerID == ownerID {
			res = append(res, b)
		}
	}
	sortBooksNewestFirst(res)
	return res, nil
}

func (m *MemoryStore) ListEnlistedBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0)
	for _, b := range m.books {
		if b.Enlisted {
			res = append(res, b)
		}
	}
	sortBooksNewestFirst(res)
	return res, nil
}

func sortBooksNewestFirst(books []domain.Book) {
	sort.Slice(books, func(i, j int) bool {
		if books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].ID < books[j].ID
		}
		return books[i].CreatedAt.After(books[j].CreatedAt)
	})
}

func (m *MemoryStore) SetBookStatus(id string, expected, next domain.BookStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casBookStatusLocked(id, expected, next)
}

func (m *MemoryStore) casBookStatusLocked(id string, expected, next domain.BookStatus) error {
	book, ok := m.books[id]
	if !ok || book.Status != expected {
		return ErrConflict
	}
	book.Status = next
	book.UpdatedAt = time.Now().UTC()
	m.books[id] = book
	return nil
}

func (m *MemoryStore) SetEnlisted(id string, enlisted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	book.Enlisted = enlisted
	book.UpdatedAt = time.Now().UTC()
	m.books[id] = book
	return nil
}

func (m *MemoryStore) OpenRequest(req domain.BorrowRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.casBookStatusLocked(req.BookID, domain.StatusAvailable, domain.StatusRequested); err != nil {
		return err
	}
	m.requests[req.ID] = req
	return nil
}

func (m *MemoryStore) GetRequest(id string) (domain.BorrowRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	return req, ok, nil
}

func (m *MemoryStore) FindPendingRequest(bookID, requesterID string) (domain.BorrowRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found domain.BorrowRequest
	var ok bool
	for _, r := range m.requests {
		if r.BookID != bookID || r.RequesterID != requesterID || r.Status != domain.RequestPending {
			continue
		}
		if !ok || r.RequestedAt.Before(found.RequestedAt) {
			found = r
			ok = true
		}
	}
	return found, ok, nil
}

func (m *MemoryStore) ListRequestsByOwner(ownerID string, status domain.RequestStatus) ([]domain.BorrowRequest, error) {
	return m.listRequests(func(r domain.BorrowRequest) bool { return r.OwnerID == ownerID }, status)
}

func (m *MemoryStore) ListRequestsByRequester(requesterID string, status domain.RequestStatus) ([]domain.BorrowRequest, error) {
	return m.listRequests(func(r domain.BorrowRequest) bool { return r.RequesterID == requesterID }, status)
}

func (m *MemoryStore) listRequests(match func(domain.BorrowRequest) bool, status domain.RequestStatus) ([]domain.BorrowRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.BorrowRequest, 0)
	for _, r := range m.requests {
		if !match(r) {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RequestedAt.After(res[j].RequestedAt) })
	return res, nil
}

func (m *MemoryStore) ListPendingRequestsBefore(cutoff time.Time) ([]domain.BorrowRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.BorrowRequest, 0)
	for _, r := range m.requests {
		if r.Status == domain.RequestPending && r.RequestedAt.Before(cutoff) {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RequestedAt.Before(res[j].RequestedAt) })
	return res, nil
}

func (m *MemoryStore) CloseRequest(id string, next domain.RequestStatus, at time.Time) error {
	if next != domain.RequestRejected && next != domain.RequestCancelled {
		return fmt.Errorf("close request: unsupported terminal status %q", next)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != domain.RequestPending {
		return ErrConflict
	}
	if err := m.casBookStatusLocked(req.BookID, domain.StatusRequested, domain.StatusAvailable); err != nil {
		return err
	}
	resolvedAt := at.UTC()
	req.Status = next
	req.ResolvedAt = &resolvedAt
	m.requests[id] = req
	return nil
}

func (m *MemoryStore) AcceptRequest(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != domain.RequestPending {
		return ErrConflict
	}
	book, ok := m.books[req.BookID]
	if !ok || book.Status != domain.StatusRequested {
		return ErrConflict
	}

	resolvedAt := at.UTC()
	req.Status = domain.RequestAccepted
	req.ResolvedAt = &resolvedAt
	m.requests[id] = req

	records := m.ledger[req.BookID]
	nextSeq := 1
	if len(records) > 0 {
		nextSeq = records[len(records)-1].Sequence + 1
	}
	m.ledger[req.BookID] = append(records, domain.OwnershipRecord{
		ID:       util.NewID(),
		BookID:   req.BookID,
		OwnerID:  req.RequesterID,
		Sequence: nextSeq,
		From:     resolvedAt,
	})

	book.Status = domain.StatusBorrowed
	book.OwnerID = req.RequesterID
	book.UpdatedAt = resolvedAt
	m.books[req.BookID] = book
	return nil
}

func (m *MemoryStore) AddReview(r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews[r.BookID] = append(m.reviews[r.BookID], r)
	return nil
}

func (m *MemoryStore) ListReviewsByBook(bookID string) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reviews := m.reviews[bookID]
	res := make([]domain.Review, len(reviews))
	copy(res, reviews)
	return res, nil
}

func (m *MemoryStore) HistoryOf(bookID string) ([]domain.OwnershipRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.ledger[bookID]
	res := make([]domain.OwnershipRecord, len(records))
	copy(res, records)
	return res, nil
}
