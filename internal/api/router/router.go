package router

import (
	"github.com/cuongbtq/face-recognition/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.MaxMultipartMemory = handler.MaxUploadSize

	recognitionHandler := handler.NewRecognitionHandler(deps)
	identityHandler := handler.NewIdentityHandler(deps)
	adminHandler := handler.NewAdminHandler(deps)

	// Health check endpoint
	r.GET("/health", adminHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		recognitions := v1.Group("/recognitions")
		{
			// POST /api/v1/recognitions/async - Queue a photo for recognition
			recognitions.POST("/async", recognitionHandler.SubmitAsync)

			// POST /api/v1/recognitions/sync - Recognize a photo within the request
			recognitions.POST("/sync", recognitionHandler.ResolveSync)
		}

		// GET /api/v1/jobs/:job_id - Job status and outcome
		v1.GET("/jobs/:job_id", recognitionHandler.GetJob)

		// GET /api/v1/ws/:job_id - Push the job outcome over a websocket
		v1.GET("/ws/:job_id", recognitionHandler.StreamResult)

		identities := v1.Group("/identities")
		{
			// POST /api/v1/identities - Register an identity photo
			identities.POST("", identityHandler.RegisterIdentity)

			// GET /api/v1/identities - List identities with cursor pagination
			identities.GET("", identityHandler.ListIdentities)
		}

		v1.GET("/stats", adminHandler.Stats)
		v1.DELETE("/reset", adminHandler.Reset)
	}

	return r
}
