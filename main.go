package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"squad-stats/config"
	"squad-stats/handlers"
	"squad-stats/middleware"
	"squad-stats/models"
	"squad-stats/services"
	"squad-stats/utils"
	"squad-stats/workers"
)

func main() {
	if len(os.Args) == 4 && os.Args[1] == services.FetchDetailsCommand {
		os.Exit(runDetailsChild(os.Args[2], os.Args[3]))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("❌ ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatal(err)
	}

	var store services.ObjectStore
	if cfg.ArchiveEnabled() {
		r2, err := newR2Store(ctx, cfg)
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		store = r2
	}

	var gc services.Coordinator = services.DisabledCoordinator{}
	if cfg.CSGOAPIEnabled && cfg.CoordinatorURL != "" {
		ws := services.NewWSCoordinator(cfg.CoordinatorURL)
		defer ws.Close()
		gc = ws
	} else {
		log.Println("⚠️  Game coordinator bridge disabled, new matches cannot be resolved")
	}

	isolator, err := services.NewIsolator()
	if err != nil {
		log.Fatal(err)
	}

	steamAPI := services.NewSteamAPI(cfg.SteamAPIKey, utils.APIClient)
	notifier := services.NewNotificationService(store)
	badgeService := services.NewBadgeService(db, notifier)
	sessionService := services.NewSessionService(db, notifier, badgeService)
	profileService := services.NewProfileService(db, steamAPI)
	matchService := services.NewMatchService(db, profileService, sessionService, badgeService)
	statsService := services.NewStatsService(db)
	weeklyService := services.NewWeeklyService(db, notifier, badgeService)
	matchClient := services.NewMatchClient(steamAPI, gc, isolator)
	updateService := services.NewUpdateService(db, matchClient, steamAPI, matchService, badgeService, sessionService)

	updateWorker := workers.NewUpdateWorker(db, updateService, cfg.UpdateCoalesceDelay)
	updateWorker.Start(ctx)

	sched, err := services.StartPeriodicJobs(statsService, weeklyService, updateWorker, cfg.StatsRefreshInterval)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer func() { _ = sched.Shutdown() }()

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Service-Token",
		MaxAge:       86400,
	}))
	app.Use(middleware.ServiceTokenMiddleware(cfg.ServiceToken))

	handlers.SetupUpdateRoutes(app, db, updateWorker, updateService)
	handlers.SetupSquadRoutes(app, weeklyService, badgeService, sessionService)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on %s", cfg.ListenAddr)
	log.Println("✅ Update worker running")
	log.Printf("✅ Stats refresh every %s", cfg.StatsRefreshInterval)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func newR2Store(ctx context.Context, cfg *config.Config) (*utils.R2Store, error) {
	return utils.NewR2Store(ctx, utils.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		Bucket:          cfg.R2BucketName,
		CDNBaseURL:      cfg.CDNBaseURL,
	})
}

// runDetailsChild is the isolated demo enrichment process.
func runDetailsChild(in, out string) int {
	ctx := context.Background()
	cfg := config.LoadChild()

	fetcher := &services.DemoFetcher{Client: utils.HTTPClient}
	if cfg.ArchiveEnabled() {
		store, err := newR2Store(ctx, cfg)
		if err != nil {
			log.Printf("⚠️ [ISOLATOR] Demo archive unavailable: %v", err)
		} else {
			fetcher.Archive = store
		}
	}
	parser := &services.ExecParser{Bin: cfg.DemoParserBin}
	return services.RunDetailsChild(ctx, in, out, services.NewEnricher(parser, fetcher))
}
