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

// User is a counting operator. Authentication happens elsewhere; the core
// only checks that the acting user exists and is active.
type User struct {
	ID            int       `gorm:"primary_key" json:"id"`
	Username      string    `gorm:"size:100;not null;unique" json:"username"`
	Card          string    `gorm:"size:64;index" json:"-"`
	IsAdmin       bool      `gorm:"not null" json:"is_admin"`
	IsActive      bool      `gorm:"not null" json:"is_active"`
	DefaultLetter string    `gorm:"size:1" json:"default_letter"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func verifyUser(ctx context.Context, db *gorm.DB, userId int) (*User, error) {
	if userId <= 0 {
		return nil, utils.NewFieldError("actingUserId", "required")
	}
	var user User
	err := db.WithContext(ctx).Where("id = ? AND is_active = ?", userId, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError(ErrUserNotFound, "user %d not found or inactive", userId)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// usernames returns id -> username for the given ids, missing ids are left out.
func usernames(ctx context.Context, db *gorm.DB, ids []int) (map[int]string, error) {
	result := make(map[int]string)
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return result, nil
	}
	var users []User
	if err := db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ID] = u.Username
	}
	return result, nil
}

type NewUser struct {
	Username      string `json:"username" validate:"required,max=100"`
	Card          string `json:"card" validate:"max=64"`
	IsAdmin       bool   `json:"is_admin"`
	DefaultLetter string `json:"default_letter" validate:"omitempty,len=1,alpha"`
}

// CreateUser registers an operator. Used by the admin tool; the login
// service owns passwords.
func CreateUser(ctx context.Context, input NewUser) (*User, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	user := User{
		Username:      strings.TrimSpace(input.Username),
		Card:          strings.TrimSpace(input.Card),
		IsAdmin:       input.IsAdmin,
		IsActive:      true,
		DefaultLetter: strings.ToUpper(input.DefaultLetter),
	}
	if err := config.GetDB().WithContext(ctx).Create(&user).Error; err != nil {
		return nil, utils.MapDBError(err)
	}
	return &user, nil
}

// FindActiveUser looks an operator up by username.
func FindActiveUser(ctx context.Context, username string) (*User, error) {
	var user User
	err := config.GetDB().WithContext(ctx).Where("username = ? AND is_active = ?", strings.TrimSpace(username), true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError(ErrUserNotFound, "user %q not found or inactive", username)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
