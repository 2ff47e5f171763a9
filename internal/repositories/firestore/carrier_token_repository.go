package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	pfirestore "github.com/industrywaala/fulfillment/internal/platform/firestore"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

const carrierTokenCollection = "carrier_tokens"

// CarrierTokenRepository stores the carrier API credential. The collection
// holds at most one live token; rotation replaces the whole collection so a
// stale credential can never outlive its successor.
type CarrierTokenRepository struct {
	base     *pfirestore.BaseRepository[carrierTokenDocument]
	provider *pfirestore.Provider
}

// NewCarrierTokenRepository constructs a Firestore-backed token repository.
func NewCarrierTokenRepository(provider *pfirestore.Provider) (*CarrierTokenRepository, error) {
	if provider == nil {
		return nil, errors.New("carrier token repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[carrierTokenDocument](provider, carrierTokenCollection, nil, nil)
	return &CarrierTokenRepository{base: base, provider: provider}, nil
}

// Latest returns the newest stored token.
func (r *CarrierTokenRepository) Latest(ctx context.Context) (domain.CarrierToken, error) {
	if r == nil || r.base == nil {
		return domain.CarrierToken{}, errors.New("carrier token repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc).Limit(1)
	})
	if err != nil {
		return domain.CarrierToken{}, err
	}
	if len(docs) == 0 {
		return domain.CarrierToken{}, pfirestore.WrapError("carrier_tokens.latest", status.Error(codes.NotFound, "no carrier token stored"))
	}

	doc := docs[0]
	return domain.CarrierToken{
		ID:        doc.ID,
		Token:     doc.Data.Token,
		Email:     doc.Data.Email,
		CreatedAt: doc.Data.CreatedAt,
		ExpiresAt: doc.Data.ExpiresAt,
	}, nil
}

// Replace deletes every stored token and inserts the new one in a single
// transaction.
func (r *CarrierTokenRepository) Replace(ctx context.Context, token domain.CarrierToken) error {
	if r == nil || r.provider == nil {
		return errors.New("carrier token repository not initialised")
	}
	if strings.TrimSpace(token.Token) == "" {
		return errors.New("carrier token repository: token is required")
	}
	if strings.TrimSpace(token.ID) == "" {
		return errors.New("carrier token repository: token id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	coll := client.Collection(carrierTokenCollection)

	doc := carrierTokenDocument{
		Token:     token.Token,
		Email:     strings.TrimSpace(token.Email),
		CreatedAt: token.CreatedAt.UTC(),
		ExpiresAt: token.ExpiresAt.UTC(),
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
		}
		return tx.Create(coll.Doc(token.ID), doc)
	})
	if err != nil {
		return pfirestore.WrapError("carrier_tokens.replace", err)
	}
	return nil
}

type carrierTokenDocument struct {
	Token     string    `firestore:"token"`
	Email     string    `firestore:"email,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// Ensure interface compliance.
var _ repositories.CarrierTokenRepository = (*CarrierTokenRepository)(nil)
