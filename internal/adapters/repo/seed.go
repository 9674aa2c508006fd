package repo

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"poliux/internal/domain"
)

//go:embed seed/catalog.json
var demoCatalog []byte

// CatalogSeed: формат файла для наполнения каталога.
type CatalogSeed struct {
	Bills       []domain.Bill       `json:"bills"`
	Legislators []domain.Legislator `json:"legislators"`
}

// CatalogWriter принимает записи каталога. Реализуется Memory и Postgres.
type CatalogWriter interface {
	UpsertBill(ctx context.Context, b domain.Bill) error
	UpsertLegislator(ctx context.Context, l domain.Legislator) error
}

// LoadCatalog читает каталог из JSON и записывает его в хранилище.
func LoadCatalog(ctx context.Context, w CatalogWriter, r io.Reader) (int, error) {
	var seed CatalogSeed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return 0, fmt.Errorf("decode catalog: %w", err)
	}
	for _, b := range seed.Bills {
		if err := w.UpsertBill(ctx, b); err != nil {
			return 0, fmt.Errorf("upsert bill %s: %w", b.ID, err)
		}
	}
	for _, l := range seed.Legislators {
		if err := w.UpsertLegislator(ctx, l); err != nil {
			return 0, fmt.Errorf("upsert legislator %s: %w", l.ID, err)
		}
	}
	return len(seed.Bills) + len(seed.Legislators), nil
}

// LoadDemoCatalog загружает встроенный демонстрационный каталог.
func LoadDemoCatalog(ctx context.Context, w CatalogWriter) (int, error) {
	return LoadCatalog(ctx, w, bytes.NewReader(demoCatalog))
}
