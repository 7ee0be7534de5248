package models

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// Product is a row of the point-of-sale catalog. The catalog is owned by the
// POS; this service only reads it.
type Product struct {
	ProductId         int             `gorm:"column:product_id;primaryKey;autoIncrement:false" json:"product_id"`
	Assortment        string          `gorm:"size:100" json:"assortment"`
	Name              string          `gorm:"size:255" json:"name"`
	MainCode          string          `gorm:"size:100;index" json:"main_code"`
	ExtraCodes        string          `gorm:"type:text" json:"extra_codes"`
	ReferenceQuantity decimal.Decimal `gorm:"type:decimal(20,3);not null" json:"reference_quantity"`
	RetailPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"retail_price"`
	Active            bool            `gorm:"not null" json:"active"`
	ChangedAt         *time.Time      `json:"changed_at"`
}

func (Product) TableName() string {
	return config.CatalogTable()
}

// ProductCode is the normalized code index over the catalog, rebuilt by
// SyncCatalogCodes. One row per (code, product).
type ProductCode struct {
	ID        int    `gorm:"primary_key" json:"id"`
	Code      string `gorm:"size:100;not null;index" json:"code"`
	ProductId int    `gorm:"not null;index" json:"product_id"`
	IsMain    bool   `gorm:"not null" json:"is_main"`
}

// NormalizeCode strips everything but ASCII digits.
func NormalizeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for i := 0; i < len(code); i++ {
		if c := code[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Codes returns the normalized main code followed by the normalized
// alternate codes. Empty codes are dropped.
func (p Product) Codes() []string {
	codes := make([]string, 0, 4)
	if c := NormalizeCode(p.MainCode); c != "" {
		codes = append(codes, c)
	}
	for _, extra := range strings.Split(p.ExtraCodes, ";") {
		if c := NormalizeCode(extra); c != "" {
			codes = append(codes, c)
		}
	}
	return utils.UniqueSlice(codes)
}

// MatchesCode reports whether an already normalized code is one of p's codes.
func (p Product) MatchesCode(normalized string) bool {
	if normalized == "" {
		return false
	}
	for _, c := range p.Codes() {
		if c == normalized {
			return true
		}
	}
	return false
}

func normalizeCodes(codes []string) []string {
	result := make([]string, 0, len(codes))
	for _, c := range codes {
		if n := NormalizeCode(c); n != "" {
			result = append(result, n)
		}
	}
	return utils.UniqueSlice(result)
}

// FindProductsByNormalizedCodes looks codes up through the code index and the
// catalog main code first. Codes still unmatched after that, e.g. decorated or
// newly added codes the index has not seen yet, are searched live in the
// catalog. Only products whose normalized codes really match are returned.
func FindProductsByNormalizedCodes(ctx context.Context, db *gorm.DB, codes []string) ([]*Product, error) {
	codes = normalizeCodes(codes)
	if len(codes) == 0 {
		return nil, nil
	}

	var ids []int
	if err := db.WithContext(ctx).Model(&ProductCode{}).
		Where("code IN ?", codes).
		Distinct().Pluck("product_id", &ids).Error; err != nil {
		return nil, err
	}

	query := db.WithContext(ctx).Where("main_code IN ?", codes)
	if len(ids) > 0 {
		query = db.WithContext(ctx).Where("product_id IN ?", ids).Or("main_code IN ?", codes)
	}
	var candidates []*Product
	if err := query.Order("product_id").Find(&candidates).Error; err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		wanted[c] = struct{}{}
	}
	products, covered := matchCandidates(candidates, wanted, nil)

	var missing []string
	for _, c := range codes {
		if _, ok := covered[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return products, nil
	}

	seen := make(map[int]struct{}, len(products))
	for _, p := range products {
		seen[p.ProductId] = struct{}{}
	}
	for start := 0; start < len(missing); start += codeScanChunk {
		end := min(start+codeScanChunk, len(missing))
		found, err := scanCatalogCodes(ctx, db, missing[start:end])
		if err != nil {
			return nil, err
		}
		var fresh []*Product
		for _, p := range found {
			if _, dup := seen[p.ProductId]; !dup {
				fresh = append(fresh, p)
			}
		}
		matched, _ := matchCandidates(fresh, wanted, covered)
		for _, p := range matched {
			seen[p.ProductId] = struct{}{}
			products = append(products, p)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ProductId < products[j].ProductId })
	return products, nil
}

const codeScanChunk = 50

// matchCandidates keeps the candidates carrying one of the wanted codes and
// records which codes they cover.
func matchCandidates(candidates []*Product, wanted map[string]struct{}, covered map[string]struct{}) ([]*Product, map[string]struct{}) {
	if covered == nil {
		covered = make(map[string]struct{})
	}
	var products []*Product
	for _, p := range candidates {
		hit := false
		for _, c := range p.Codes() {
			if _, ok := wanted[c]; ok {
				covered[c] = struct{}{}
				hit = true
			}
		}
		if hit {
			products = append(products, p)
		}
	}
	return products, covered
}

// digitPattern turns "123" into "%1%2%3%". Every catalog code that normalizes
// to the digits matches it, so it is a superset filter; the caller re-checks.
func digitPattern(normalized string) string {
	var b strings.Builder
	b.Grow(2*len(normalized) + 1)
	b.WriteByte('%')
	for i := 0; i < len(normalized); i++ {
		b.WriteByte(normalized[i])
		b.WriteByte('%')
	}
	return b.String()
}

// scanCatalogCodes reads the catalog rows whose main or alternate codes may
// normalize to one of codes. Codes are digits only, so the LIKE patterns need
// no escaping.
func scanCatalogCodes(ctx context.Context, db *gorm.DB, codes []string) ([]*Product, error) {
	conds := make([]string, 0, len(codes))
	args := make([]interface{}, 0, 2*len(codes))
	for _, c := range codes {
		pattern := digitPattern(c)
		conds = append(conds, "main_code LIKE ? OR extra_codes LIKE ?")
		args = append(args, pattern, pattern)
	}
	var found []*Product
	err := db.WithContext(ctx).Where(strings.Join(conds, " OR "), args...).
		Order("product_id").Find(&found).Error
	return found, err
}

// ResolveCodes maps each normalized scanned code to a product id. When more
// than one product carries the same code the lowest product id wins.
func ResolveCodes(products []*Product, codes []string) map[string]int {
	sorted := make([]*Product, len(products))
	copy(sorted, products)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductId < sorted[j].ProductId })

	resolved := make(map[string]int)
	for _, code := range normalizeCodes(codes) {
		for _, p := range sorted {
			if p.MatchesCode(code) {
				resolved[code] = p.ProductId
				break
			}
		}
	}
	return resolved
}

func FindProductById(ctx context.Context, db *gorm.DB, productId int) (*Product, error) {
	var product Product
	err := db.WithContext(ctx).Where("product_id = ?", productId).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError(ErrProductNotFound, "product %d not found", productId)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func findProductsByIds(ctx context.Context, db *gorm.DB, ids []int) (map[int]*Product, error) {
	result := make(map[int]*Product)
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return result, nil
	}
	var products []*Product
	if err := db.WithContext(ctx).Where("product_id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ProductId] = p
	}
	return result, nil
}

const catalogSyncBatch = 1000

// SyncCatalogCodes rebuilds the normalized code index from the catalog and
// returns the number of index rows written.
func SyncCatalogCodes(ctx context.Context) (int, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	var rows []ProductCode
	var batch []*Product
	err := db.WithContext(ctx).Model(&Product{}).
		Select("product_id", "main_code", "extra_codes").
		FindInBatches(&batch, catalogSyncBatch, func(tx *gorm.DB, _ int) error {
			for _, p := range batch {
				main := NormalizeCode(p.MainCode)
				for _, c := range p.Codes() {
					rows = append(rows, ProductCode{Code: c, ProductId: p.ProductId, IsMain: c == main})
				}
			}
			return nil
		}).Error
	if err != nil {
		config.LogError(logger, "ProductCode", "SyncCatalogCodes", "reading catalog", nil, err)
		return 0, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ProductCode{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, catalogSyncBatch).Error
	})
	if err != nil {
		config.LogError(logger, "ProductCode", "SyncCatalogCodes", "rebuilding code index", nil, err)
		return 0, err
	}
	logger.WithField("codes", len(rows)).Info("catalog code index rebuilt")
	return len(rows), nil
}
