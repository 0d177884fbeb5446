package routes

import (
	"errors"
	"net/http"

	"study-analyzer-platform/middleware"
	"study-analyzer-platform/services"
	"study-analyzer-platform/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func SetupAnalysisRoutes(router *gin.Engine, analyses *services.AnalysisService, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/api/analysis")
	group.Use(authMiddleware.RequireAuth())

	group.POST("/subject/:subjectId", handleRequestAnalysis(analyses))
	group.POST("/quick-predict", handleQuickPredict(analyses))
	group.GET("", handleListAnalyses(analyses))
	group.GET("/:id", handleGetAnalysis(analyses))
}

func handleRequestAnalysis(analyses *services.AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID, err := primitive.ObjectIDFromHex(c.Param("subjectId"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid subject id", nil)
			return
		}

		var opts services.AnalysisOptions
		if err := c.ShouldBindJSON(&opts); err != nil && err.Error() != "EOF" {
			utils.RespondWithBadRequest(c, "Invalid analysis options", nil)
			return
		}

		analysis, err := analyses.RequestAnalysis(c.Request.Context(), middleware.GetUserObjectID(c), subjectID, opts)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrSubjectNotFound):
				utils.RespondWithNotFound(c, "Subject not found")
			case errors.Is(err, services.ErrNotEnoughDocuments):
				utils.RespondWithBadRequest(c, "At least two processed documents are required for analysis", nil)
			default:
				utils.RespondWithInternalError(c, "Failed to start analysis", nil)
			}
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"analysisId": analysis.ID.Hex(),
			"status":     analysis.Status,
			"message":    "Analysis started. Check back later for results.",
		})
	}
}

func handleGetAnalysis(analyses *services.AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		analysisID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid analysis id", nil)
			return
		}

		analysis, err := analyses.GetAnalysis(c.Request.Context(), middleware.GetUserObjectID(c), analysisID)
		if errors.Is(err, services.ErrAnalysisNotFound) {
			utils.RespondWithNotFound(c, "Analysis not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch analysis", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"analysis": analysis})
	}
}

func handleListAnalyses(analyses *services.AnalysisService) gin.HandlerFunc {
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

		list, err := analyses.ListAnalyses(c.Request.Context(), middleware.GetUserObjectID(c), subjectID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch analyses", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"analyses": list})
	}
}

type quickPredictRequest struct {
	SubjectID string `json:"subjectId" binding:"required"`
	Topic     string `json:"topic" binding:"required"`
}

func handleQuickPredict(analyses *services.AnalysisService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req quickPredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "subjectId and topic are required", nil)
			return
		}

		subjectID, err := primitive.ObjectIDFromHex(req.SubjectID)
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid subject id", nil)
			return
		}

		prediction, err := analyses.QuickPredict(c.Request.Context(), middleware.GetUserObjectID(c), subjectID, req.Topic)
		if errors.Is(err, services.ErrSubjectNotFound) {
			utils.RespondWithNotFound(c, "Subject not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Quick prediction failed", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"prediction": prediction})
	}
}
