package api

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/starterkit/pkg/envelope"
	"github.com/nao1215/starterkit/pkg/middleware"
	"github.com/nao1215/starterkit/pkg/validation"
)

const (
	// defaultFolder はフォルダ未指定時に使用するフォルダ名。
	defaultFolder = "uploads"
	// uploadURLTTL はアップロード用署名付きURLの有効期間。
	uploadURLTTL = 15 * time.Minute
	// downloadURLTTL はダウンロード用署名付きURLの有効期間。
	downloadURLTTL = 60 * time.Minute
)

// uploadURLRequest はアップロード用URLの発行リクエスト。
// folderとfileNameは "/" を含まない。ユーザーごとのプレフィックスは入れ子にならない。
type uploadURLRequest struct {
	FileName    string `json:"fileName" label:"Filename" validate:"required,excludes=/"`
	ContentType string `json:"contentType" label:"Content type" validate:"required"`
	Folder      string `json:"folder" label:"Folder" validate:"excludes=/"`
}

// ApplyDefaults はfolderが省略された場合にデフォルトのフォルダを設定する。
func (r *uploadURLRequest) ApplyDefaults() {
	if r.Folder == "" {
		r.Folder = defaultFolder
	}
}

// ownerPrefix はユーザーのファイルを格納するプレフィックスを返す。
func ownerPrefix(folder, uid string) string {
	return folder + "/" + uid + "/"
}

// folderQuery はクエリパラメータのフォルダ名を返す。
func folderQuery(c *gin.Context) (string, *envelope.Error) {
	folder := c.Query("folder")
	if folder == "" {
		return defaultFolder, nil
	}
	if strings.Contains(folder, "/") {
		return "", envelope.ValidationFailed(validation.FieldErrors{
			"folder": {`Folder must not contain "/"`},
		})
	}
	return folder, nil
}

// handleUploadURL はアップロード用の署名付きURLを発行するハンドラを返す。
func (s *Server) handleUploadURL() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			return envelope.Fail(envelope.Unauthenticated("Unauthorized - User not authenticated", nil))
		}
		req, ok := middleware.Payload[uploadURLRequest](c)
		if !ok {
			return envelope.Fail(envelope.Internal("Failed to generate upload URL", errMissingPayload))
		}

		issuedAt := s.now()
		filePath := fmt.Sprintf("%s%d_%s", ownerPrefix(req.Folder, p.ID), issuedAt.UnixMilli(), req.FileName)
		signedURL, err := s.objects.PresignUpload(c.Request.Context(), filePath, req.ContentType, uploadURLTTL)
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to generate upload URL", err))
		}

		return envelope.OK(gin.H{
			"signedUrl": signedURL,
			"filePath":  filePath,
			"expiresAt": formatTime(issuedAt.Add(uploadURLTTL)),
		})
	})
}

// handleListFiles は認証済みユーザーのファイル一覧を返すハンドラを返す。
func (s *Server) handleListFiles() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			return envelope.Fail(envelope.Unauthenticated("Unauthorized - User not authenticated", nil))
		}
		folder, verr := folderQuery(c)
		if verr != nil {
			return envelope.Fail(verr)
		}

		objects, err := s.objects.List(c.Request.Context(), ownerPrefix(folder, p.ID))
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to list files", err))
		}

		files := make([]gin.H, 0, len(objects))
		for _, o := range objects {
			files = append(files, gin.H{
				"name":        o.Key,
				"path":        o.Key,
				"contentType": o.ContentType,
				"size":        o.Size,
				"createdAt":   formatTime(o.CreatedAt),
				"updatedAt":   formatTime(o.UpdatedAt),
				"downloadUrl": s.objects.PublicURL(o.Key),
			})
		}
		return envelope.OK(gin.H{"files": files})
	})
}

// handleDeleteFile は認証済みユーザーのファイルを削除するハンドラを返す。
func (s *Server) handleDeleteFile() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			return envelope.Fail(envelope.Unauthenticated("Unauthorized - User not authenticated", nil))
		}
		folder, verr := folderQuery(c)
		if verr != nil {
			return envelope.Fail(verr)
		}

		filePath := ownerPrefix(folder, p.ID) + c.Param("filename")
		exists, err := s.objects.Exists(c.Request.Context(), filePath)
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to delete file", err))
		}
		if !exists {
			return envelope.Fail(envelope.NotFound("File not found"))
		}
		if err := s.objects.Delete(c.Request.Context(), filePath); err != nil {
			return envelope.Fail(envelope.Internal("Failed to delete file", err))
		}
		return envelope.OK(gin.H{"message": "File deleted successfully"})
	})
}

// handleDownloadURL はダウンロード用の署名付きURLを発行するハンドラを返す。
// ファイルパスはバケット内のキー全体で、所有者による絞り込みは行わない。
func (s *Server) handleDownloadURL() gin.HandlerFunc {
	return envelope.Handle(func(c *gin.Context) envelope.Result {
		filePath := strings.TrimPrefix(c.Param("filePath"), "/")
		if filePath == "" || path.Clean("/"+filePath) != "/"+filePath {
			return envelope.Fail(envelope.NotFound("File not found"))
		}

		exists, err := s.objects.Exists(c.Request.Context(), filePath)
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to generate download URL", err))
		}
		if !exists {
			return envelope.Fail(envelope.NotFound("File not found"))
		}

		issuedAt := s.now()
		signedURL, err := s.objects.PresignDownload(c.Request.Context(), filePath, downloadURLTTL)
		if err != nil {
			return envelope.Fail(envelope.Internal("Failed to generate download URL", err))
		}
		return envelope.OK(gin.H{
			"signedUrl": signedURL,
			"expiresAt": formatTime(issuedAt.Add(downloadURLTTL)),
		})
	})
}
