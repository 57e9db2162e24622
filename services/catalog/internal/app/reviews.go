package app

import (
	"strings"
	"time"

	"shelfshare/internal/util"
	"shelfshare/pkg/domain"
)

// AddReview records userID's rating of a book. Ratings are plain
// integers on a 1..5 scale; anyone with an account may rate any book,
// borrowed or not.
func (a *App) AddReview(bookID, userID string, rating int) (domain.Review, error) {
	if strings.TrimSpace(bookID) == "" {
		return domain.Review{}, domain.Validationf("book id is required")
	}
	if rating < 1 || rating > 5 {
		return domain.Review{}, domain.Validationf("ratings must be between 1 and 5")
	}
	if _, ok, err := a.store.GetBook(bookID); err != nil {
		return domain.Review{}, err
	} else if !ok {
		return domain.Review{}, domain.NotFoundf("book %s not found", bookID)
	}
	review := domain.Review{
		ID:        util.NewID(),
		BookID:    bookID,
		UserID:    userID,
		Rating:    rating,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AddReview(review); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// ListReviews returns a book's reviews in submission order.
func (a *App) ListReviews(bookID string) ([]domain.Review, error) {
	if _, ok, err := a.store.GetBook(bookID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.NotFoundf("book %s not found", bookID)
	}
	return a.store.ListReviewsByBook(bookID)
}
