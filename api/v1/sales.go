package v1

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"token-sale/sale-backend/internal/auth"
	"token-sale/sale-backend/internal/config"
	"token-sale/sale-backend/internal/notifications"
	"token-sale/sale-backend/internal/reports"
	"token-sale/sale-backend/internal/sale"
	"token-sale/sale-backend/pkg/security"
	"token-sale/sale-backend/pkg/storage"
)

// Clients holds the AWS clients the configuration enables. A nil field
// disables the sink or upload it backs.
type Clients struct {
	SNS    *sns.Client
	Dynamo *dynamodb.Client
	S3     storage.S3Client
}

// NewClients builds the AWS clients named by the configuration.
func NewClients(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Clients, error) {
	clients := &Clients{}
	if cfg.Events.SNSTopicARN == "" && cfg.Events.DynamoTable == "" && cfg.Storage.Bucket == "" {
		return clients, nil
	}

	awsCfg, err := storage.LoadAWSConfig(ctx, storage.AWSOptions{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Events.SNSTopicARN != "" {
		clients.SNS = sns.NewFromConfig(awsCfg)
	}
	if cfg.Events.DynamoTable != "" {
		clients.Dynamo = dynamodb.NewFromConfig(awsCfg)
	}
	if cfg.Storage.Bucket != "" {
		clients.S3 = storage.NewS3Client(awsCfg, cfg.Storage.UsePathStyle, logger)
	}
	return clients, nil
}

// OpenDatabase connects to Postgres and applies the pool settings.
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	return db, nil
}

// EventSinks assembles the configured sinks. Delivery to the live hub is
// best effort; SNS and DynamoDB failures leave events for the relay.
func EventSinks(cfg *config.Config, clients *Clients, hub *notifications.Hub, logger *zap.Logger) notifications.FanOut {
	var sinks notifications.FanOut
	if clients.SNS != nil {
		sinks = append(sinks, notifications.NewSNSPublisher(clients.SNS, cfg.Events.SNSTopicARN, logger))
	}
	if clients.Dynamo != nil {
		sinks = append(sinks, notifications.NewDynamoArchive(clients.Dynamo, cfg.Events.DynamoTable, logger))
	}
	if hub != nil {
		sinks = append(sinks, notifications.BestEffort(hub, logger))
	}
	return sinks
}

// SaleAPI holds the sale API dependencies
type SaleAPI struct {
	Service        *sale.Service
	Handler        *sale.Handler
	Reports        *reports.Service
	ReportsHandler *reports.Handler
	AuthHandler    *auth.Handler
	Hub            *notifications.Hub
	Tokens         *security.TokenService
	Logger         *zap.Logger
}

// SetupSaleAPI sets up the sale API with all dependencies. hub may be nil
// for processes that serve no websocket clients.
func SetupSaleAPI(db *gorm.DB, cfg *config.Config, clients *Clients, hub *notifications.Hub, logger *zap.Logger) (*SaleAPI, error) {
	repository := sale.NewGormRepository(db)
	if cfg.Database.AutoMigrate {
		if err := repository.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate sale tables: %w", err)
		}
	}

	service := sale.NewService(repository, logger,
		sale.WithEventSink(EventSinks(cfg, clients, hub, logger)),
		sale.WithMaxInvestors(cfg.Sale.MaxInvestors),
	)

	reportsService := reports.NewService(service, clients.S3, reports.SnapshotTarget{
		Bucket: cfg.Storage.Bucket,
		Prefix: cfg.Storage.Prefix,
	}, logger)

	return &SaleAPI{
		Service:        service,
		Handler:        sale.NewHandler(service, logger),
		Reports:        reportsService,
		ReportsHandler: reports.NewHandler(reportsService, logger),
		AuthHandler:    auth.NewHandler(),
		Hub:            hub,
		Tokens:         security.NewTokenService(cfg.Security.JWTSecret, cfg.Security.Issuer, cfg.Security.TokenTTL),
		Logger:         logger,
	}, nil
}

// RegisterRoutes registers the health check and the authenticated /api/v1
// routes, including the event stream.
func RegisterRoutes(router *gin.Engine, api *SaleAPI) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
	})

	v1 := router.Group("/api/v1", auth.Middleware(api.Tokens, api.Logger))
	{
		api.AuthHandler.RegisterRoutes(v1)
		api.Handler.RegisterRoutes(v1)
		api.ReportsHandler.RegisterRoutes(v1)
		if api.Hub != nil {
			api.Hub.RegisterRoutes(v1)
		}
	}
}

// CORSMiddleware allows browser clients from any origin.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
