package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// Count is one inventory cycle. Every sheet belongs to exactly one count.
type Count struct {
	ID       int        `gorm:"primary_key" json:"id"`
	Name     string     `gorm:"size:100;not null" json:"name"`
	IsActive bool       `gorm:"not null" json:"is_active"`
	OpenAt   time.Time  `gorm:"not null" json:"open_at"`
	ClosedAt *time.Time `json:"closed_at"`
	FinalAt  *time.Time `json:"final_at"`
}

func getCount(ctx context.Context, db *gorm.DB, countId int) (*Count, error) {
	if countId <= 0 {
		return nil, utils.NewFieldError("countId", "required")
	}
	var count Count
	err := db.WithContext(ctx).First(&count, countId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError(ErrCountNotFound, "count %d not found", countId)
	}
	if err != nil {
		return nil, err
	}
	return &count, nil
}

func GetCount(ctx context.Context, countId int) (*Count, error) {
	return getCount(ctx, config.GetDB(), countId)
}

func ListCounts(ctx context.Context) ([]*Count, error) {
	var counts []*Count
	err := config.GetDB().WithContext(ctx).Order("id DESC").Find(&counts).Error
	return counts, err
}

func CreateCount(ctx context.Context, name string) (*Count, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, utils.NewFieldError("name", "required")
	}
	count := Count{Name: name, IsActive: true, OpenAt: timeNow()}
	if err := config.GetDB().WithContext(ctx).Create(&count).Error; err != nil {
		return nil, err
	}
	return &count, nil
}
