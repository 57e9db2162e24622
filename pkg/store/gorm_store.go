package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shelfshare/internal/util"
	"shelfshare/pkg/domain"
)

const migrateLockID int64 = 52110974

const (
	maxRetries = 3
	retryDelay = 100 * time.Millisecond
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory
// lock so concurrent service starts do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&BookModel{},
			&BorrowRequestModel{},
			&OwnershipRecordModel{},
			&ReviewModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// withRetry retries transient storage failures a bounded number of
// times. CAS conflicts and absent rows are deterministic outcomes and
// pass through untouched.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return err
		}
		time.Sleep(retryDelay * time.Duration(attempt+1))
	}
	return err
}

// CreateUser registers a new user.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	return withRetry(func() error {
		return s.db.Create(&model).Error
	})
}

// HasUsername checks if a username is taken.
func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	err := withRetry(func() error {
		return s.db.Model(&UserModel{}).Where("username = ?", username).Count(&count).Error
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	err := withRetry(func() error {
		return s.db.Where("username = ?", username).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	err := withRetry(func() error {
		return s.db.First(&model, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	err := withRetry(func() error {
		return s.db.Order("created_at ASC").Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UpdatePasswordHash replaces a user's password hash.
func (s *GormStore) UpdatePasswordHash(id, hash string) error {
	return withRetry(func() error {
		res := s.db.Model(&UserModel{}).Where("id = ?", id).
			Updates(map[string]any{"password_hash": hash, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CreateBookWithHistory inserts the book and its first ownership record.
func (s *GormStore) CreateBookWithHistory(b domain.Book) error {
	model := bookToModel(b)
	record := OwnershipRecordModel{
		ID:       util.NewID(),
		BookID:   b.ID,
		OwnerID:  b.OwnerID,
		Sequence: 1,
		From:     b.CreatedAt,
	}
	return withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			return tx.Create(&record).Error
		})
	})
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	err := withRetry(func() error {
		return s.db.First(&model, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooksByOwner returns the owner's books, newest first.
func (s *GormStore) ListBooksByOwner(ownerID string) ([]domain.Book, error) {
	return s.listBooks("created_at DESC", "owner_id = ?", ownerID)
}

// ListEnlistedBooks returns every publicly visible book.
func (s *GormStore) ListEnlistedBooks() ([]domain.Book, error) {
	return s.listBooks("created_at DESC", "enlisted = ?", true)
}

func (s *GormStore) listBooks(order string, conds ...any) ([]domain.Book, error) {
	var models []BookModel
	err := withRetry(func() error {
		tx := s.db.Order(order)
		if len(conds) > 0 {
			tx = tx.Where(conds[0], conds[1:]...)
		}
		return tx.Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// SetBookStatus compare-and-swaps the book status.
func (s *GormStore) SetBookStatus(id string, expected, next domain.BookStatus) error {
	return withRetry(func() error {
		return casBookStatus(s.db, id, expected, next)
	})
}

func casBookStatus(tx *gorm.DB, id string, expected, next domain.BookStatus) error {
	res := tx.Model(&BookModel{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(map[string]any{
			"status":     string(next),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// SetEnlisted toggles public visibility; it never touches status.
func (s *GormStore) SetEnlisted(id string, enlisted bool) error {
	return withRetry(func() error {
		res := s.db.Model(&BookModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"enlisted":   enlisted,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// OpenRequest flips the book AVAILABLE -> REQUESTED and inserts the
// PENDING request as one transaction. A concurrent submitter loses the
// CAS, the transaction rolls back, and no orphaned request row exists.
func (s *GormStore) OpenRequest(req domain.BorrowRequest) error {
	model := requestToModel(req)
	return withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := casBookStatus(tx, req.BookID, domain.StatusAvailable, domain.StatusRequested); err != nil {
				return err
			}
			return tx.Create(&model).Error
		})
	})
}

// GetRequest retrieves a borrow request.
func (s *GormStore) GetRequest(id string) (domain.BorrowRequest, bool, error) {
	var model BorrowRequestModel
	err := withRetry(func() error {
		return s.db.First(&model, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.BorrowRequest{}, false, nil
		}
		return domain.BorrowRequest{}, false, err
	}
	return requestFromModel(model), true, nil
}

// FindPendingRequest returns the PENDING request a requester holds on a book.
func (s *GormStore) FindPendingRequest(bookID, requesterID string) (domain.BorrowRequest, bool, error) {
	var model BorrowRequestModel
	err := withRetry(func() error {
		return s.db.
			Where("book_id = ? AND requester_id = ? AND status = ?", bookID, requesterID, string(domain.RequestPending)).
			Order("requested_at ASC").
			First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.BorrowRequest{}, false, nil
		}
		return domain.BorrowRequest{}, false, err
	}
	return requestFromModel(model), true, nil
}

// ListRequestsByOwner returns requests received by an owner, newest first.
func (s *GormStore) ListRequestsByOwner(ownerID string, status domain.RequestStatus) ([]domain.BorrowRequest, error) {
	return s.listRequests("owner_id = ?", ownerID, status)
}

// ListRequestsByRequester returns requests a user has sent, newest first.
func (s *GormStore) ListRequestsByRequester(requesterID string, status domain.RequestStatus) ([]domain.BorrowRequest, error) {
	return s.listRequests("requester_id = ?", requesterID, status)
}

func (s *GormStore) listRequests(cond string, id string, status domain.RequestStatus) ([]domain.BorrowRequest, error) {
	var models []BorrowRequestModel
	err := withRetry(func() error {
		tx := s.db.Where(cond, id)
		if status != "" {
			tx = tx.Where("status = ?", string(status))
		}
		return tx.Order("requested_at DESC").Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.BorrowRequest, 0, len(models))
	for _, m := range models {
		res = append(res, requestFromModel(m))
	}
	return res, nil
}

// ListPendingRequestsBefore returns PENDING requests older than cutoff.
func (s *GormStore) ListPendingRequestsBefore(cutoff time.Time) ([]domain.BorrowRequest, error) {
	var models []BorrowRequestModel
	err := withRetry(func() error {
		return s.db.
			Where("status = ? AND requested_at < ?", string(domain.RequestPending), cutoff.UTC()).
			Order("requested_at ASC").
			Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.BorrowRequest, 0, len(models))
	for _, m := range models {
		res = append(res, requestFromModel(m))
	}
	return res, nil
}

// CloseRequest resolves a PENDING request to REJECTED or CANCELLED and
// returns the book to AVAILABLE, atomically. Exactly one of two racing
// resolvers wins; the loser observes ErrConflict.
func (s *GormStore) CloseRequest(id string, next domain.RequestStatus, at time.Time) error {
	if next != domain.RequestRejected && next != domain.RequestCancelled {
		return fmt.Errorf("close request: unsupported terminal status %q", next)
	}
	return withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var model BorrowRequestModel
			if err := tx.First(&model, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if err := casRequestStatus(tx, id, domain.RequestPending, next, at); err != nil {
				return err
			}
			return casBookStatus(tx, model.BookID, domain.StatusRequested, domain.StatusAvailable)
		})
	})
}

// AcceptRequest resolves a PENDING request to ACCEPTED, appends the
// next ownership record, and transfers the book to the requester as one
// transaction. Any partial failure rolls everything back.
func (s *GormStore) AcceptRequest(id string, at time.Time) error {
	return withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var model BorrowRequestModel
			if err := tx.First(&model, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if err := casRequestStatus(tx, id, domain.RequestPending, domain.RequestAccepted, at); err != nil {
				return err
			}

			var maxSeq sql.NullInt64
			if err := tx.Model(&OwnershipRecordModel{}).
				Where("book_id = ?", model.BookID).
				Select("MAX(sequence)").
				Scan(&maxSeq).Error; err != nil {
				return err
			}
			record := OwnershipRecordModel{
				ID:       util.NewID(),
				BookID:   model.BookID,
				OwnerID:  model.RequesterID,
				Sequence: int(maxSeq.Int64) + 1,
				From:     at.UTC(),
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}

			res := tx.Model(&BookModel{}).
				Where("id = ? AND status = ?", model.BookID, string(domain.StatusRequested)).
				Updates(map[string]any{
					"status":     string(domain.StatusBorrowed),
					"owner_id":   model.RequesterID,
					"updated_at": at.UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
			return nil
		})
	})
}

func casRequestStatus(tx *gorm.DB, id string, expected, next domain.RequestStatus, at time.Time) error {
	resolvedAt := at.UTC()
	res := tx.Model(&BorrowRequestModel{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(map[string]any{
			"status":      string(next),
			"resolved_at": &resolvedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// HistoryOf returns the ownership ledger for a book ordered by sequence.
func (s *GormStore) HistoryOf(bookID string) ([]domain.OwnershipRecord, error) {
	var models []OwnershipRecordModel
	err := withRetry(func() error {
		return s.db.Where("book_id = ?", bookID).Order("sequence ASC").Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.OwnershipRecord, 0, len(models))
	for _, m := range models {
		res = append(res, recordFromModel(m))
	}
	return res, nil
}

// AddReview records one user's rating of a book.
func (s *GormStore) AddReview(r domain.Review) error {
	model := reviewToModel(r)
	return withRetry(func() error {
		return s.db.Create(&model).Error
	})
}

// ListReviewsByBook returns a book's reviews, oldest first.
func (s *GormStore) ListReviewsByBook(bookID string) ([]domain.Review, error) {
	var models []ReviewModel
	err := withRetry(func() error {
		return s.db.Where("book_id = ?", bookID).Order("created_at ASC").Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	questions, _ := json.Marshal(u.SecurityQuestions)
	return UserModel{
		ID:                u.ID,
		Name:              u.Name,
		Username:          u.Username,
		Email:             u.Email,
		PasswordHash:      u.PasswordHash,
		Pincode:           u.Pincode,
		Area:              u.Area,
		City:              u.City,
		State:             u.State,
		Country:           u.Country,
		SecurityQuestions: questions,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	var questions map[string]string
	if len(m.SecurityQuestions) > 0 {
		_ = json.Unmarshal(m.SecurityQuestions, &questions)
	}
	return domain.User{
		ID:                m.ID,
		Name:              m.Name,
		Username:          m.Username,
		Email:             m.Email,
		PasswordHash:      m.PasswordHash,
		Pincode:           m.Pincode,
		Area:              m.Area,
		City:              m.City,
		State:             m.State,
		Country:           m.Country,
		SecurityQuestions: questions,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		Genre:        string(b.Genre),
		Year:         b.Year,
		Note:         b.Note,
		DisplayTitle: b.DisplayTitle,
		Status:       string(b.Status),
		OwnerID:      b.OwnerID,
		Enlisted:     b.Enlisted,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:           m.ID,
		Title:        m.Title,
		Author:       m.Author,
		Genre:        domain.BookGenre(m.Genre),
		Year:         m.Year,
		Note:         m.Note,
		DisplayTitle: m.DisplayTitle,
		Status:       domain.BookStatus(m.Status),
		OwnerID:      m.OwnerID,
		Enlisted:     m.Enlisted,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func requestToModel(r domain.BorrowRequest) BorrowRequestModel {
	return BorrowRequestModel{
		ID:          r.ID,
		BookID:      r.BookID,
		RequesterID: r.RequesterID,
		OwnerID:     r.OwnerID,
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt,
		ResolvedAt:  r.ResolvedAt,
	}
}

func requestFromModel(m BorrowRequestModel) domain.BorrowRequest {
	return domain.BorrowRequest{
		ID:          m.ID,
		BookID:      m.BookID,
		RequesterID: m.RequesterID,
		OwnerID:     m.OwnerID,
		Status:      domain.RequestStatus(m.Status),
		RequestedAt: m.RequestedAt,
		ResolvedAt:  m.ResolvedAt,
	}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:        r.ID,
		BookID:    r.BookID,
		UserID:    r.UserID,
		Rating:    r.Rating,
		CreatedAt: r.CreatedAt,
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:        m.ID,
		BookID:    m.BookID,
		UserID:    m.UserID,
		Rating:    m.Rating,
		CreatedAt: m.CreatedAt,
	}
}

func recordFromModel(m OwnershipRecordModel) domain.OwnershipRecord {
	return domain.OwnershipRecord{
		ID:       m.ID,
		BookID:   m.BookID,
		OwnerID:  m.OwnerID,
		Sequence: m.Sequence,
		From:     m.From,
	}
}
