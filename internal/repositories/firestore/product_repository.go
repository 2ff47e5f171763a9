package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	pfirestore "github.com/industrywaala/fulfillment/internal/platform/firestore"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads the catalog slice fulfillment needs and keeps the
// lifetime sales counters on product documents.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// FindByID loads a product by id.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        doc.ID,
		Name:      doc.Data.Name,
		SKU:       doc.Data.SKU,
		UnitsSold: doc.Data.UnitsSold,
	}, nil
}

// IncrementSales bumps the units-sold counter in a read-modify-write
// transaction. Missing products are skipped rather than failed so a catalog
// removal cannot break order finalization.
func (r *ProductRepository) IncrementSales(ctx context.Context, productID string, units int64) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	if units <= 0 {
		return fmt.Errorf("product repository: units must be positive, got %d", units)
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}

		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "unitsSold", Value: doc.UnitsSold + units},
		})
	})
	if err != nil {
		return pfirestore.WrapError("products.increment_sales", err)
	}
	return nil
}

type productDocument struct {
	Name      string `firestore:"name"`
	SKU       string `firestore:"sku"`
	UnitsSold int64  `firestore:"unitsSold"`
}

// Ensure interface compliance.
var _ repositories.ProductRepository = (*ProductRepository)(nil)
