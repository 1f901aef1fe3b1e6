package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/registrar-api/api/swagger"
	"github.com/noah-isme/registrar-api/internal/handler"
	"github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/cache"
	"github.com/noah-isme/registrar-api/pkg/config"
	"github.com/noah-isme/registrar-api/pkg/database"
	"github.com/noah-isme/registrar-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/registrar-api/pkg/middleware/requestid"
	"github.com/noah-isme/registrar-api/pkg/storage"
	"github.com/noah-isme/registrar-api/pkg/upload"
)

// @title Registrar API
// @version 1.0.0
// @description Student registrar management API
// @BasePath /api
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Cached unread counts fall back to the database when redis
		// is unreachable.
		logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare upload storage", "error", err)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, studentRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	catalogSvc := service.NewCatalogService(catalogRepo, validate, logr)
	scheduleSvc := service.NewScheduleService(scheduleRepo, validate, logr)

	notificationSvc := service.NewNotificationService(notificationRepo, cacheRepo, logr, service.NotificationConfig{
		UnreadCacheTTL:    cfg.Notifications.UnreadCacheTTL,
		WorkerConcurrency: cfg.Notifications.WorkerConcurrency,
		WorkerRetries:     cfg.Notifications.WorkerRetries,
	})

	applicationSvc := service.NewApplicationService(applicationRepo, studentRepo, catalogRepo, userRepo, notificationSvc, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, logr)
	gradeSvc := service.NewGradeService(gradeRepo, studentRepo, validate, logr)
	transcriptSvc := service.NewTranscriptService(gradeRepo, studentRepo, logr)

	uploadPolicy := upload.NewPolicy(cfg.Uploads.MaxFileSizeBytes, cfg.Uploads.MaxFilesPerReq, cfg.Uploads.AllowedTypes)
	requestSvc := service.NewRequestService(requestRepo, studentRepo, userRepo, notificationSvc, store, uploadPolicy, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	applicationHandler := handler.NewApplicationHandler(applicationSvc, metricsSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	gradeHandler := handler.NewGradeHandler(gradeSvc, transcriptSvc)
	requestHandler := handler.NewRequestHandler(requestSvc, metricsSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	healthHandler := handler.NewHealthHandler(db, cacheRepo)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	r.Static("/uploads", cfg.Uploads.StorageDir)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.GET("/health", healthHandler.Ready)
	api.POST("/auth/login", middleware.Audit(userRepo, models.AuditActionLogin, "auth"), authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	secured.POST("/register", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionUserCreate, "users"), userHandler.Register)

	secured.POST("/auth/logout", middleware.Audit(userRepo, models.AuditActionLogout, "auth"), authHandler.Logout)
	secured.POST("/auth/change-password", authHandler.ChangePassword)
	secured.GET("/auth/me", authHandler.Me)

	secured.GET("/users", middleware.AdminOnly.Middleware(), userHandler.List)

	secured.GET("/students", middleware.StaffOnly.Middleware(), studentHandler.List)
	secured.GET("/students/me", middleware.StudentOnly.Middleware(), studentHandler.Me)
	secured.GET("/students/:id", middleware.StaffOnly.Middleware(), studentHandler.Get)
	secured.PUT("/students/:id", middleware.AdminOnly.Middleware(), studentHandler.Update)
	secured.DELETE("/students/:id", middleware.AdminOnly.Middleware(), studentHandler.Delete)
	secured.GET("/students/:id/transcript.pdf", gradeHandler.Transcript)

	secured.GET("/departments", catalogHandler.ListDepartments)
	secured.POST("/departments", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "departments"), catalogHandler.CreateDepartment)
	secured.DELETE("/departments/:id", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "departments"), catalogHandler.DeleteDepartment)

	secured.GET("/courses", catalogHandler.ListCourses)
	secured.POST("/courses", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "courses"), catalogHandler.CreateCourse)
	secured.PUT("/courses/:id", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "courses"), catalogHandler.UpdateCourse)
	secured.DELETE("/courses/:id", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "courses"), catalogHandler.DeleteCourse)

	secured.GET("/subjects", catalogHandler.ListSubjects)
	secured.POST("/subjects", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "subjects"), catalogHandler.CreateSubject)
	secured.PUT("/subjects/:id", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "subjects"), catalogHandler.UpdateSubject)
	secured.DELETE("/subjects/:id", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "subjects"), catalogHandler.DeleteSubject)

	secured.GET("/terms", catalogHandler.ListTerms)
	secured.POST("/terms", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "terms"), catalogHandler.CreateTerm)
	secured.PATCH("/terms/:id/activate", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionCatalogWrite, "terms"), catalogHandler.ActivateTerm)

	secured.GET("/schedules", scheduleHandler.List)
	secured.POST("/schedules", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionScheduleWrite, "schedules"), scheduleHandler.Create)
	secured.PUT("/schedules/:id", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionScheduleWrite, "schedules"), scheduleHandler.Update)
	secured.DELETE("/schedules/:id", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionScheduleWrite, "schedules"), scheduleHandler.Delete)

	secured.POST("/enrollment-applications", middleware.StudentOnly.Middleware(), applicationHandler.Submit)
	secured.GET("/enrollment-applications", middleware.StaffOnly.Middleware(), applicationHandler.List)
	secured.GET("/enrollment-applications/export", middleware.StaffOnly.Middleware(), applicationHandler.Export)
	secured.GET("/enrollment-applications/mine", middleware.StudentOnly.Middleware(), applicationHandler.ListMine)
	secured.GET("/enrollment-applications/status/:status", middleware.StaffOnly.Middleware(), applicationHandler.ListByStatus)
	secured.GET("/enrollment-applications/:id", applicationHandler.Get)
	secured.PATCH("/enrollment-applications/:id/approve-payment", middleware.AccountingGate.Middleware(), applicationHandler.ApprovePayment)
	secured.PATCH("/enrollment-applications/:id/review", middleware.AdminOnly.Middleware(), applicationHandler.Review)
	secured.PATCH("/enrollment-applications/:id/reject", middleware.StaffOnly.Middleware(), applicationHandler.Reject)

	secured.GET("/enrollments", middleware.StaffOnly.Middleware(), enrollmentHandler.List)
	secured.GET("/enrollments/mine", middleware.StudentOnly.Middleware(), enrollmentHandler.ListMine)

	secured.GET("/grades", middleware.StaffOnly.Middleware(), gradeHandler.List)
	secured.GET("/grades/mine", middleware.StudentOnly.Middleware(), gradeHandler.ListMine)
	secured.POST("/grades", middleware.AdminOnly.Middleware(), middleware.Audit(userRepo, models.AuditActionGradeWrite, "grades"), gradeHandler.Record)

	secured.POST("/requests", middleware.StudentOnly.Middleware(), requestHandler.Create)
	secured.GET("/requests", requestHandler.List)
	secured.GET("/requests/:id", requestHandler.Get)
	secured.GET("/requests/:id/document/:docIndex", requestHandler.GetDocument)
	secured.PATCH("/requests/:id", middleware.StaffOnly.Middleware(), requestHandler.UpdateStatus)

	secured.GET("/notifications", notificationHandler.List)
	secured.GET("/notifications/unread-count", notificationHandler.UnreadCount)
	secured.PATCH("/notifications/read", notificationHandler.MarkAllRead)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
