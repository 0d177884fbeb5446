package routes

import (
	"errors"
	"io"
	"net/http"

	"study-analyzer-platform/internal/config"
	"study-analyzer-platform/middleware"
	"study-analyzer-platform/services"
	"study-analyzer-platform/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func SetupDocumentRoutes(router *gin.Engine, cfg *config.Config, documents *services.DocumentService, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/api/documents")
	group.Use(authMiddleware.RequireAuth())

	group.POST("/upload", handleDocumentUpload(cfg, documents))
	group.GET("", handleListDocuments(documents))
	group.GET("/stats", handleDocumentStats(documents))
	group.GET("/vector-stats", handleVectorStats(documents))
	group.GET("/:id", handleGetDocument(documents))
	group.GET("/:id/status", handleDocumentStatus(documents))
	group.DELETE("/:id", handleDeleteDocument(documents))
}

func handleDocumentUpload(cfg *config.Config, documents *services.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "No file uploaded", nil)
			return
		}

		subjectID, err := primitive.ObjectIDFromHex(c.PostForm("subjectId"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid subject id", nil)
			return
		}
		documentType := c.PostForm("documentType")

		if fileHeader.Size > cfg.MaxFileSize {
			utils.RespondWithBadRequest(c, "File exceeds the maximum allowed size", gin.H{
				"max_bytes": cfg.MaxFileSize,
			})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read uploaded file", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, cfg.MaxFileSize+1))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read uploaded file", nil)
			return
		}
		if int64(len(data)) > cfg.MaxFileSize {
			utils.RespondWithBadRequest(c, "File exceeds the maximum allowed size", nil)
			return
		}

		mimeType := fileHeader.Header.Get("Content-Type")

		doc, err := documents.Upload(c.Request.Context(), middleware.GetUserObjectID(c), subjectID, documentType, services.UploadInput{
			OriginalName: fileHeader.Filename,
			MimeType:     mimeType,
			Size:         int64(len(data)),
			Data:         data,
		})
		if err != nil {
			switch {
			case errors.Is(err, services.ErrSubjectNotFound):
				utils.RespondWithNotFound(c, "Subject not found")
			case errors.Is(err, services.ErrUnsupportedMediaType):
				utils.RespondWithUnsupportedMedia(c, "File type is not supported")
			default:
				utils.RespondWithBadRequest(c, err.Error(), nil)
			}
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"document": doc,
			"message":  "Document uploaded successfully. Processing in background.",
		})
	}
}

func handleListDocuments(documents *services.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var subjectID *primitive.ObjectID
		if raw := c.Query("subjectId"); raw != "" {
			id, err := primitive.ObjectIDFromHex(raw)
			if err != nil {
				utils.RespondWithBadRequest(c, "Invalid subject id", nil)
				return
			}
			subjectID = &id
		}

		docs, err := documents.ListDocuments(c.Request.Context(), middleware.GetUserObjectID(c), subjectID, c.Query("documentType"))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch documents", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"documents": docs})
	}
}

func handleGetDocument(documents *services.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid document id", nil)
			return
		}

		doc, err := documents.GetDocument(c.Request.Context(), middleware.GetUserObjectID(c), documentID)
		if errors.Is(err, services.ErrDocumentNotFound) {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch document", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"document": doc})
	}
}

func handleDocumentStatus(documents *services.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid document id", nil)
			return
		}

		snapshot, err := documents.GetStatus(c.Request.Context(), middleware.GetUserObjectID(c), documentID)
		if errors.Is(err, services.ErrDocumentNotFound) {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch document status", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": snapshot})
	}
}

func handleDeleteDocument(documents *services.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid document id", nil)
			return
		}

		err = documents.DeleteDocument(c.Request.Context(), middleware.GetUserObjectID(c), documentID)
		if errors.Is(err, services.ErrDocumentNotFound) {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to delete document", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Document deleted successfully"})
	}
}

func handleDocumentStats(documents *services.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var subjectID *primitive.ObjectID
		if raw := c.Query("subjectId"); raw != "" {
			id, err := primitive.ObjectIDFromHex(raw)
			if err != nil {
				utils.RespondWithBadRequest(c, "Invalid subject id", nil)
				return
			}
			subjectID = &id
		}

		stats, err := documents.Stats(c.Request.Context(), middleware.GetUserObjectID(c), subjectID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch document statistics", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"stats": stats})
	}
}

func handleVectorStats(documents *services.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := documents.VectorStats(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"stats": stats})
	}
}
