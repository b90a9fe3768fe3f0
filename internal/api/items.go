package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/starterkit/internal/docstore"
	"github.com/nao1215/starterkit/pkg/envelope"
	"github.com/nao1215/starterkit/pkg/middleware"
)

// itemRequest はアイテムの作成・更新リクエスト。
type itemRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price" validate:"required,gt=0"`
	Category    *string  `json:"category"`
	IsActive    *bool    `json:"isActive"`
}

// ApplyDefaults はisActiveが省略された場合にtrueを設定する。
func (r *itemRequest) ApplyDefaults() {
	if r.IsActive == nil {
		active := true
		r.IsActive = &active
	}
}

// fields はドキュメントに保存するフィールドを返す。省略された任意フィールドは含めない。
func (r *itemRequest) fields() map[string]any {
	fields := map[string]any{
		"name":     r.Name,
		"price":    *r.Price,
		"isActive": *r.IsActive,
	}
	if r.Description != nil {
		fields["description"] = *r.Description
	}
	if r.Category != nil {
		fields["category"] = *r.Category
	}
	return fields
}

// handleListItems はアイテム一覧を返すハンドラを返す。
func (s *Server) handleListItems() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		docs, err := s.items.List(c.Request.Context())
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to fetch items", err))
		}

		items := make([]map[string]any, 0, len(docs))
		for _, doc := range docs {
			items = append(items, doc.Flatten())
		}
		return envelope.OK(gin.H{"items": items})
	})
}

// handleGetItem はIDを指定してアイテムを返すハンドラを返す。
func (s *Server) handleGetItem() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		doc, err := s.items.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			return envelope.Fail(itemError("Failed to fetch item", err))
		}
		return envelope.OK(doc.Flatten())
	})
}

// handleCreateItem はアイテムを作成するハンドラを返す。
func (s *Server) handleCreateItem() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		req, ok := middleware.Payload[itemRequest](c)
		if !ok {
			return envelope.Fail(envelope.Internal("Failed to create item", errMissingPayload))
		}

		doc, err := s.items.Add(c.Request.Context(), req.fields())
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to create item", err))
		}
		return envelope.Created(gin.H{
			"message": "Item created successfully",
			"id":      doc.ID,
		})
	})
}

// handleUpdateItem はアイテムを更新するハンドラを返す。
// リクエストのフィールドを既存のドキュメントにマージする。
func (s *Server) handleUpdateItem() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		req, ok := middleware.Payload[itemRequest](c)
		if !ok {
			return envelope.Fail(envelope.Internal("Failed to update item", errMissingPayload))
		}

		if _, err := s.items.Update(c.Request.Context(), c.Param("id"), req.fields()); err != nil {
			return envelope.Fail(itemError("Failed to update item", err))
		}
		return envelope.OK(gin.H{"message": "Item updated successfully"})
	})
}

// handleDeleteItem はアイテムを削除するハンドラを返す。
func (s *Server) handleDeleteItem() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		if err := s.items.Delete(c.Request.Context(), c.Param("id")); err != nil {
			return envelope.Fail(itemError("Failed to delete item", err))
		}
		return envelope.OK(gin.H{"message": "Item deleted successfully"})
	})
}

// itemError はドキュメントストアのエラーをエンベロープに変換する。
func itemError(message string, err error) *envelope.Error {
	if errors.Is(err, docstore.ErrNotFound) {
		return envelope.NotFound("Item not found")
	}
	return envelope.Internal(message, err)
}
