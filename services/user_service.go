package services

import (
	"context"
	"errors"
	"fmt"

	"revealroom/models"

	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

type CreateUserRequest struct {
	Username    string `json:"username" binding:"required,min=1,max=50"`
	DisplayName string `json:"displayName" binding:"max=100"`
}

type UpdateUserRequest struct {
	Username    *string `json:"username" binding:"omitempty,min=1,max=50"`
	DisplayName *string `json:"displayName" binding:"omitempty,max=100"`
}

func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	taken, err := s.usernameTaken(ctx, req.Username, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, Conflict(MsgUsernameTaken)
	}

	user := models.User{
		Username:    req.Username,
		DisplayName: req.DisplayName,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, Conflict(MsgUsernameTaken)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &user, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("User")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *UserService) ListUsers(ctx context.Context, page PageRequest) (*Page[models.User], error) {
	return paginate[models.User](s.db.WithContext(ctx).Model(&models.User{}), page, "created_at DESC")
}

// UpdateUser renames a user, re-checking username uniqueness. Users cannot be
// deleted while rooms reference them, so there is no delete.
func (s *UserService) UpdateUser(ctx context.Context, id string, req *UpdateUserRequest) (*models.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Username != nil && *req.Username != user.Username {
		taken, err := s.usernameTaken(ctx, *req.Username, user.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, Conflict(MsgUsernameTaken)
		}
		user.Username = *req.Username
	}
	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}

	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, Conflict(MsgUsernameTaken)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (s *UserService) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return count > 0, nil
}

func (s *UserService) usernameTaken(ctx context.Context, username, excludeID string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return count > 0, nil
}
