package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	pgRepo "github.com/kseleznyov/identity-service/internal/adapters/db/postgres"
	redisRepo "github.com/kseleznyov/identity-service/internal/adapters/db/redis"
	"github.com/kseleznyov/identity-service/internal/adapters/transport/http/dto"
	httpmw "github.com/kseleznyov/identity-service/internal/adapters/transport/http/middleware"
	"github.com/kseleznyov/identity-service/internal/app/identity/cache"
	appjwt "github.com/kseleznyov/identity-service/internal/app/identity/jwt"
	appsvc "github.com/kseleznyov/identity-service/internal/app/identity/service"
	"github.com/kseleznyov/identity-service/internal/app/worker"
	idErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
	"github.com/kseleznyov/identity-service/internal/infra/config"
	lg "github.com/kseleznyov/identity-service/internal/infra/log"
	"github.com/kseleznyov/identity-service/internal/infra/migrate"
)

func main() {
	zapLog := lg.Must(os.Getenv("LOG_LEVEL"))
	defer zapLog.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("failed to load config", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		zapLog.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		zapLog.Fatal("db handle", zap.Error(err))
	}
	defer sqlDB.Close()
	if err := migrate.Up(sqlDB); err != nil {
		zapLog.Fatal("run migrations", zap.Error(err))
	}

	redisCli := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisCli.Close()

	validate := validator.New()
	_ = validate.RegisterValidation("strongpwd", func(fl validator.FieldLevel) bool {
		pwd := fl.Field().String()
		if len(pwd) < 8 {
			return false
		}
		var hasUpper, hasDigit bool
		for _, r := range pwd {
			if unicode.IsUpper(r) {
				hasUpper = true
			}
			if unicode.IsDigit(r) {
				hasDigit = true
			}
		}
		return hasUpper && hasDigit
	})

	userRepo := pgRepo.NewPostgresUserRepo(db)
	jobRepo := pgRepo.NewPostgresJobRepo(db)
	cacheStore := redisRepo.NewRedisCacheStore(redisCli)
	userCache := cache.NewUserCache(cacheStore, cfg.UserCacheTTL, zapLog)

	issuer, err := appjwt.NewTokenIssuer(cfg)
	if err != nil {
		zapLog.Fatal("failed to init token issuer", zap.Error(err))
	}
	svc := appsvc.New(userRepo, jobRepo, userCache, issuer, cfg, validate, zapLog)
	jobWorker := worker.New(jobRepo, cfg.JobPollInterval, zapLog)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(zapLog))
	router.Use(httpmw.NewRateLimitPerIP(50, 100, 10_000, time.Hour))

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			AllowCredentials: cfg.AllowCredentials,
			MaxAge:           12 * time.Hour,
		}))
	}

	users := router.Group("/users")

	users.POST("/signup", func(c *gin.Context) {
		var body dto.SignupDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pair, err := svc.Signup(c.Request.Context(), body)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, pairResponse(pair))
	})

	users.POST("/login", func(c *gin.Context) {
		var body dto.LoginDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pair, err := svc.Login(c.Request.Context(), body)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, pairResponse(pair))
	})

	users.POST("/logout", func(c *gin.Context) {
		subject, _, err := svc.VerifyAccess(c.Request.Context(), bearerToken(c))
		if err != nil {
			handleError(c, err)
			return
		}
		if err := svc.Logout(c.Request.Context(), subject); err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	})

	users.POST("/refresh", func(c *gin.Context) {
		var body dto.RefreshDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// The subject comes from the presented token's own claims; the
		// service re-verifies both the signature and the stored fingerprint.
		claims, err := issuer.ValidateRefreshToken(body.RefreshToken)
		if err != nil {
			handleError(c, err)
			return
		}
		subject, err := uuid.Parse(claims.Subject)
		if err != nil {
			handleError(c, idErrors.ErrAccessDenied)
			return
		}
		pair, err := svc.Refresh(c.Request.Context(), subject, body.RefreshToken)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, pairResponse(pair))
	})

	users.GET("/profile", func(c *gin.Context) {
		subject, _, err := svc.VerifyAccess(c.Request.Context(), bearerToken(c))
		if err != nil {
			handleError(c, err)
			return
		}
		profile, err := svc.Lookup(c.Request.Context(), subject)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
	})

	users.GET("/:id", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		profile, err := svc.Lookup(c.Request.Context(), id)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	srv := &http.Server{Addr: cfg.HTTPAddress, Handler: router}
	rootCtx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		return jobWorker.Run(ctx)
	})

	g.Go(func() error {
		zapLog.Info("http server listening", zap.String("addr", cfg.HTTPAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLog.Info("shutdown signal received")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		zapLog.Error("shutdown error", zap.Error(err))
	}
	if err := g.Wait(); err != nil {
		zapLog.Error("server terminated", zap.Error(err))
	}
}

func pairResponse(pair model.TokenPair) dto.TokenPairResponse {
	return dto.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int(pair.AccessTTL.Seconds()),
		UserID:       pair.UserID.String(),
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer"))
}

func handleError(c *gin.Context, err error) {
	switch {
	case idErrors.IsInvalidArgument(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case idErrors.IsAccessDenied(err):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case idErrors.IsUnauthenticated(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	case idErrors.IsAlreadyExists(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case idErrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case idErrors.IsStoreUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
