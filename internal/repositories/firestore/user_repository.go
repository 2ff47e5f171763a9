package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	pfirestore "github.com/industrywaala/fulfillment/internal/platform/firestore"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

const userCollection = "users"

// UserRepository reads account projections for ownership checks and
// confirmation mail addressing. The user store itself is owned by the
// identity service; this repository never writes.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// FindByID loads the account projection by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.Account, error) {
	if r == nil || r.base == nil {
		return domain.Account{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.Account{}, errors.New("user repository: user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{
		ID:    doc.ID,
		Email: strings.TrimSpace(doc.Data.Email),
		Phone: strings.TrimSpace(doc.Data.PhoneNumber),
		Name:  strings.TrimSpace(doc.Data.DisplayName),
	}, nil
}

type userDocument struct {
	DisplayName string `firestore:"displayName"`
	Email       string `firestore:"email"`
	PhoneNumber string `firestore:"phoneNumber"`
}

// Ensure interface compliance.
var _ repositories.UserRepository = (*UserRepository)(nil)
