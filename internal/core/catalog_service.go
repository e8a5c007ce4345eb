package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogService is the read side of the external catalog that the ledgers consume.
type CatalogService interface {
	GetProduct(ctx context.Context, productID int) (*Product, error)
	GetProductByCode(ctx context.Context, code string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

func (s *catalogService) GetProduct(ctx context.Context, productID int) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", productID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("product", productID)
		}
		return nil, fmt.Errorf("failed to fetch product %d: %w", productID, err)
	}
	return p, nil
}

func (s *catalogService) GetProductByCode(ctx context.Context, code string) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE code = $1", code))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("product", code)
		}
		return nil, fmt.Errorf("failed to fetch product %s: %w", code, err)
	}
	return p, nil
}

func (s *catalogService) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+productColumns+" FROM products WHERE is_active = true ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}
