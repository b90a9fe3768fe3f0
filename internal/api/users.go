package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/starterkit/internal/userstore"
	"github.com/nao1215/starterkit/pkg/envelope"
	"github.com/nao1215/starterkit/pkg/identity"
	"github.com/nao1215/starterkit/pkg/middleware"
)

// createUserRequest はユーザー作成リクエスト。
type createUserRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required,min=6"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL" label:"Photo URL" validate:"omitempty,url"`
	Disabled      bool   `json:"disabled"`
	EmailVerified bool   `json:"emailVerified"`
}

// updateUserRequest はユーザーの部分更新リクエスト。省略したフィールドは変更しない。
type updateUserRequest struct {
	DisplayName   *string `json:"displayName"`
	PhotoURL      *string `json:"photoURL" label:"Photo URL" validate:"omitempty,url"`
	Email         *string `json:"email" validate:"omitempty,email"`
	Password      *string `json:"password" validate:"omitempty,min=6"`
	Disabled      *bool   `json:"disabled"`
	EmailVerified *bool   `json:"emailVerified"`
}

func (r *updateUserRequest) toUpdate() userstore.Update {
	return userstore.Update{
		Email:         r.Email,
		Password:      r.Password,
		DisplayName:   r.DisplayName,
		PhotoURL:      r.PhotoURL,
		EmailVerified: r.EmailVerified,
		Disabled:      r.Disabled,
	}
}

// tokenRequest はトークン発行リクエスト。
type tokenRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// handleCreateUser はユーザーを作成するハンドラを返す。
func (s *Server) handleCreateUser() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		req, ok := middleware.Payload[createUserRequest](c)
		if !ok {
			return envelope.Fail(envelope.Internal("Failed to create user", errMissingPayload))
		}

		user, err := s.users.Create(c.Request.Context(), userstore.NewUser{
			Email:         req.Email,
			Password:      req.Password,
			DisplayName:   req.DisplayName,
			PhotoURL:      req.PhotoURL,
			EmailVerified: req.EmailVerified,
			Disabled:      req.Disabled,
		})
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to create user", err))
		}

		s.logger.Info("ユーザーを作成しました", zap.String("uid", user.UID))
		return envelope.Created(gin.H{
			"message": "User created successfully",
			"uid":     user.UID,
		})
	})
}

// handleIssueToken はメールアドレスとパスワードを検証してトークンを発行するハンドラを返す。
func (s *Server) handleIssueToken() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		req, ok := middleware.Payload[tokenRequest](c)
		if !ok {
			return envelope.Fail(envelope.Internal("Failed to issue token", errMissingPayload))
		}

		user, err := s.users.Authenticate(c.Request.Context(), req.Email, req.Password)
		switch {
		case errors.Is(err, userstore.ErrInvalidCredentials):
			return envelope.Fail(envelope.Unauthenticated("Invalid email or password", nil))
		case errors.Is(err, userstore.ErrDisabled):
			return envelope.Fail(envelope.Forbidden("User account is disabled"))
		case err != nil:
			return envelope.Fail(envelope.Internal("Failed to issue token", err))
		}

		token, expiresAt, err := s.issuer.Issue(user.UID, identity.Claims{
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
			Roles:         user.Roles,
		})
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to issue token", err))
		}

		return envelope.OK(gin.H{
			"token":     token,
			"uid":       user.UID,
			"expiresAt": formatTime(expiresAt),
		})
	})
}

// handleGetMe は認証済みユーザー自身のプロフィールを返すハンドラを返す。
func (s *Server) handleGetMe() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			return envelope.Fail(envelope.Unauthenticated("Unauthorized - User not authenticated", nil))
		}

		user, err := s.users.Get(c.Request.Context(), p.ID)
		if err != nil {
			return envelope.Fail(userError("Failed to fetch user profile", err))
		}

		return envelope.OK(gin.H{
			"uid":            user.UID,
			"email":          user.Email,
			"displayName":    user.DisplayName,
			"photoURL":       user.PhotoURL,
			"emailVerified":  user.EmailVerified,
			"createdAt":      formatTime(user.CreatedAt),
			"lastSignInTime": lastSignIn(user),
		})
	})
}

// handleUpdateMe は認証済みユーザー自身のプロフィールを更新するハンドラを返す。
func (s *Server) handleUpdateMe() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			return envelope.Fail(envelope.Unauthenticated("Unauthorized - User not authenticated", nil))
		}
		req, ok := middleware.Payload[updateUserRequest](c)
		if !ok {
			return envelope.Fail(envelope.Internal("Failed to update user profile", errMissingPayload))
		}

		user, err := s.users.Update(c.Request.Context(), p.ID, req.toUpdate())
		if err != nil {
			return envelope.Fail(userError("Failed to update user profile", err))
		}

		return envelope.OK(gin.H{
			"uid":           user.UID,
			"email":         user.Email,
			"displayName":   user.DisplayName,
			"photoURL":      user.PhotoURL,
			"emailVerified": user.EmailVerified,
			"updatedAt":     formatTime(user.UpdatedAt),
		})
	})
}

// handleGetUser は指定したユーザーのプロフィールを返すハンドラを返す。
func (s *Server) handleGetUser() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		user, err := s.users.Get(c.Request.Context(), c.Param("uid"))
		if err != nil {
			return envelope.Fail(userError("Failed to fetch user", err))
		}

		return envelope.OK(gin.H{
			"uid":            user.UID,
			"email":          user.Email,
			"displayName":    user.DisplayName,
			"photoURL":       user.PhotoURL,
			"disabled":       user.Disabled,
			"emailVerified":  user.EmailVerified,
			"createdAt":      formatTime(user.CreatedAt),
			"lastSignInTime": lastSignIn(user),
		})
	})
}

// handleUpdateUser は指定したユーザーを更新するハンドラを返す。
func (s *Server) handleUpdateUser() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		req, ok := middleware.Payload[updateUserRequest](c)
		if !ok {
			return envelope.Fail(envelope.Internal("Failed to update user", errMissingPayload))
		}

		user, err := s.users.Update(c.Request.Context(), c.Param("uid"), req.toUpdate())
		if err != nil {
			return envelope.Fail(userError("Failed to update user", err))
		}

		return envelope.OK(gin.H{
			"uid":           user.UID,
			"email":         user.Email,
			"displayName":   user.DisplayName,
			"photoURL":      user.PhotoURL,
			"disabled":      user.Disabled,
			"emailVerified": user.EmailVerified,
			"updatedAt":     formatTime(user.UpdatedAt),
		})
	})
}

// handleDeleteUser は指定したユーザーを削除するハンドラを返す。
func (s *Server) handleDeleteUser() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		uid := c.Param("uid")
		if err := s.users.Delete(c.Request.Context(), uid); err != nil {
			return envelope.Fail(userError("Failed to delete user", err))
		}

		s.logger.Info("ユーザーを削除しました", zap.String("uid", uid))
		return envelope.OK(gin.H{"message": "User deleted successfully"})
	})
}

// userError はIDディレクトリのエラーをエンベロープに変換する。
func userError(message string, err error) *envelope.Error {
	if errors.Is(err, userstore.ErrNotFound) {
		return envelope.NotFound("User not found")
	}
	return envelope.Internal(message, err)
}

// lastSignIn は最終ログイン日時を返す。一度もログインしていない場合はnil。
func lastSignIn(u userstore.User) any {
	if u.LastSignInAt == nil {
		return nil
	}
	return formatTime(*u.LastSignInAt)
}
