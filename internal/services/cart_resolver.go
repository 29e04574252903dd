package services

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"cart-recovery-service/internal/clients"
	"cart-recovery-service/internal/models"
)

// ResolvedItem is a snapshot line joined with current catalog data
type ResolvedItem struct {
	ProductID   int64              `json:"productId"`
	VariationID int64              `json:"variationId"`
	Quantity    int                `json:"quantity"`
	Price       float64            `json:"price"`
	Product     *clients.Product   `json:"product"`
	Variation   *clients.Variation `json:"variation"`
}

// LineTotal is price times quantity
func (i ResolvedItem) LineTotal() float64 {
	return i.Price * float64(i.Quantity)
}

// Name returns the product name with variation options appended
func (i ResolvedItem) Name() string {
	if i.Product == nil {
		return ""
	}
	name := i.Product.Name
	if i.Variation != nil {
		for _, attr := range i.Variation.Attributes {
			if attr.Option != "" {
				name += " - " + attr.Option
			}
		}
	}
	return name
}

// ImageURL returns the variation image, falling back to the product's first image
func (i ResolvedItem) ImageURL() string {
	if i.Variation != nil && i.Variation.Image != nil && i.Variation.Image.Src != "" {
		return i.Variation.Image.Src
	}
	if i.Product != nil && len(i.Product.Images) > 0 {
		return i.Product.Images[0].Src
	}
	return ""
}

// cartResolver looks up every snapshot line against the live catalog. Lines
// whose product or variation can no longer be fetched are dropped.
type cartResolver struct {
	catalog Catalog
	logger  *logrus.Entry
}

func (r *cartResolver) resolve(ctx context.Context, items []models.LineItem) []ResolvedItem {
	resolved := make([]ResolvedItem, 0, len(items))
	for _, item := range items {
		product, err := r.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			r.logger.WithError(err).WithField("productId", item.ProductID).Debug("Dropping line with unavailable product")
			continue
		}

		line := ResolvedItem{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
			Product:     product,
			Price:       parsePrice(product.Price),
		}

		if item.VariationID != 0 {
			variation, err := r.catalog.GetVariation(ctx, item.ProductID, item.VariationID)
			if err != nil {
				r.logger.WithError(err).WithFields(logrus.Fields{
					"productId":   item.ProductID,
					"variationId": item.VariationID,
				}).Debug("Dropping line with unavailable variation")
				continue
			}
			line.Variation = variation
			line.Price = parsePrice(variation.Price)
		}

		resolved = append(resolved, line)
	}
	return resolved
}

// total sums the resolved lines
func total(items []ResolvedItem) float64 {
	var sum float64
	for _, item := range items {
		sum += item.LineTotal()
	}
	return sum
}

func parsePrice(raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}
