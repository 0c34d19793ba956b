package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"gorm.io/gorm"

	"kidsafe-go/internal/model"
	"kidsafe-go/internal/repository"
	"kidsafe-go/pkg/hash"
	"kidsafe-go/pkg/log"
	"kidsafe-go/pkg/token"
)

const minParentPasswordLength = 8

// TokenPair 登录或刷新后返回的令牌。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
}

// AuthService 账号注册、登录与令牌管理。
type AuthService interface {
	RegisterParent(ctx context.Context, email, password, name string) (*model.Parent, error)
	LoginParent(ctx context.Context, email, password string) (*TokenPair, error)
	LoginKid(ctx context.Context, email, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, tokenString string) error
	// IsRevoked 判断 token 是否已登出。
	IsRevoked(ctx context.Context, tokenString string) (bool, error)
}

type authService struct {
	parentRepo repository.ParentRepository
	childRepo  repository.ChildRepository
	tokenRepo  repository.TokenRepository
	jwtManager *token.JWTManager
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(parentRepo repository.ParentRepository, childRepo repository.ChildRepository, tokenRepo repository.TokenRepository, jwtManager *token.JWTManager) AuthService {
	return &authService{
		parentRepo: parentRepo,
		childRepo:  childRepo,
		tokenRepo:  tokenRepo,
		jwtManager: jwtManager,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: invalid email", ErrValidation)
	}
	return email, nil
}

// RegisterParent 创建家长账号，同时写入默认的 blocklist 规则。
func (s *authService) RegisterParent(ctx context.Context, email, password, name string) (*model.Parent, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(password) < minParentPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minParentPasswordLength)
	}

	_, err = s.parentRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}
	parent := &model.Parent{Email: email, PasswordHash: hashed, Name: name}
	if err := s.parentRepo.CreateWithRule(ctx, parent, model.NewDefaultContentRule("")); err != nil {
		log.Errorf("[AuthService] 创建家长账号失败, email: %s, error: %v", email, err)
		return nil, err
	}
	log.Infof("[AuthService] 家长账号注册成功, parentId: %s", parent.ID)
	return parent, nil
}

func (s *authService) LoginParent(ctx context.Context, email, password string) (*TokenPair, error) {
	parent, err := s.parentRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return nil, err
	}
	if !hash.CheckPasswordHash(password, parent.PasswordHash) {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	return s.issue(parent.ID, token.RoleParent, parent.ID)
}

func (s *authService) LoginKid(ctx context.Context, email, password string) (*TokenPair, error) {
	child, err := s.childRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return nil, err
	}
	if !hash.CheckPasswordHash(password, child.PasswordHash) {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	return s.issue(child.ID, token.RoleKid, child.ParentID)
}

// Refresh 校验 refresh token 并签发新的一对令牌。
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil || claims.TokenType != token.TypeRefresh {
		return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}
	revoked, err := s.IsRevoked(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("%w: refresh token revoked", ErrUnauthorized)
	}

	// 账号可能已被删除
	switch claims.Role {
	case token.RoleParent:
		_, err = s.parentRepo.FindByID(ctx, claims.UserID)
	case token.RoleKid:
		_, err = s.childRepo.FindByID(ctx, claims.UserID)
	default:
		err = gorm.ErrRecordNotFound
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
		}
		return nil, err
	}
	return s.issue(claims.UserID, claims.Role, claims.ParentID)
}

// Logout 将 token 加入 Redis 黑名单，过期时间为其剩余有效期。
func (s *authService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return s.tokenRepo.Blacklist(ctx, tokenString, time.Until(claims.ExpiresAt.Time))
}

func (s *authService) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	if s.tokenRepo == nil {
		return false, nil
	}
	return s.tokenRepo.IsBlacklisted(ctx, tokenString)
}

func (s *authService) issue(userID, role, parentID string) (*TokenPair, error) {
	access, refresh, err := s.jwtManager.GeneratePair(userID, role, parentID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}
