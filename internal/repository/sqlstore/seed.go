package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

// DemoUserID owns the seeded address so a fresh install can place an order.
const DemoUserID = "user-demo"

func catalog() []entity.Product {
	p := func(id, name, desc, price, category string, stock int) entity.Product {
		return entity.Product{
			ID:          id,
			Name:        name,
			Description: desc,
			Price:       decimal.RequireFromString(price),
			Category:    category,
			Stock:       stock,
			Active:      true,
		}
	}
	return []entity.Product{
		p("prod-001", "Assam Breakfast Tea", "Malty whole-leaf black tea, 250g tin.", "349.00", "Tea", 50),
		p("prod-002", "Darjeeling First Flush", "Light, floral spring harvest, 100g.", "799.00", "Tea", 30),
		p("prod-003", "Masala Chai Blend", "CTC tea with cardamom, ginger and clove, 500g.", "449.00", "Tea", 120),
		p("prod-004", "Cast Iron Kettle", "1.2L enamelled cast iron kettle.", "2499.00", "Brewing", 15),
		p("prod-005", "Glass Infuser Mug", "Double-walled mug with steel infuser.", "599.00", "Brewing", 80),
		p("prod-006", "Tasting Sampler", "Six 25g pouches of single-estate teas.", "999.00", "Gifts", 40),
	}
}

// Seed inserts the demo catalog and a demo address if the store is empty.
func Seed(ctx context.Context, store repository.Store) error {
	if err := store.Products().Seed(ctx, catalog()); err != nil {
		return fmt.Errorf("failed to seed products: %w", err)
	}

	err := store.Addresses().Create(ctx, &entity.Address{
		ID:         "addr-demo",
		UserID:     DemoUserID,
		FullName:   "Demo Customer",
		Phone:      "+91 98000 00000",
		Line1:      "12 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("failed to seed address: %w", err)
	}

	slog.Info("Seed data ready", "user_id", DemoUserID)
	return nil
}
