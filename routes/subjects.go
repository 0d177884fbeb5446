package routes

import (
	"net/http"
	"strings"
	"time"

	"study-analyzer-platform/middleware"
	"study-analyzer-platform/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"study-analyzer-platform/models"
)

func SetupSubjectRoutes(router *gin.Engine, db *mongo.Database, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/api/subjects")
	group.Use(authMiddleware.RequireAuth())

	subjects := db.Collection("subjects")

	group.POST("", handleCreateSubject(subjects))
	group.GET("", handleListSubjects(subjects))
}

type createSubjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func handleCreateSubject(subjects *mongo.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSubjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Subject name is required", nil)
			return
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			utils.RespondWithBadRequest(c, "Subject name is required", nil)
			return
		}

		now := time.Now().UTC()
		subject := models.Subject{
			UserID:      middleware.GetUserObjectID(c),
			Name:        name,
			Description: strings.TrimSpace(req.Description),
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		res, err := subjects.InsertOne(c.Request.Context(), subject)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				utils.RespondWithBadRequest(c, "A subject with this name already exists", nil)
				return
			}
			utils.RespondWithInternalError(c, "Failed to create subject", nil)
			return
		}
		subject.ID = res.InsertedID.(primitive.ObjectID)

		c.JSON(http.StatusCreated, gin.H{"subject": subject})
	}
}

func handleListSubjects(subjects *mongo.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		cursor, err := subjects.Find(c.Request.Context(),
			bson.M{"user_id": middleware.GetUserObjectID(c)},
			options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch subjects", nil)
			return
		}

		list := []models.Subject{}
		if err := cursor.All(c.Request.Context(), &list); err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch subjects", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"subjects": list})
	}
}
