package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/reservation-admin/internal/account"
	"github.com/iliyamo/reservation-admin/internal/booking"
	"github.com/iliyamo/reservation-admin/internal/config"
	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/deviceid"
	"github.com/iliyamo/reservation-admin/internal/handler"
	"github.com/iliyamo/reservation-admin/internal/inventory"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/repository"
	"github.com/iliyamo/reservation-admin/internal/router"
	"github.com/iliyamo/reservation-admin/internal/session"
)

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.NewStdLogger(nil)

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	tx := database.NewTxManager(db)

	rdb, err := config.NewRedisClient()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	codec, err := deviceid.NewCodec(cfg.DeviceSecret, cfg.DeviceEncrypt)
	if err != nil {
		log.Fatalf("device id: %v", err)
	}

	sessionRepo := repository.NewSessionRepo(db, tx)
	accountRepo := repository.NewAccountRepo(db)
	taskRepo := repository.NewTaskRepo(db)

	sessions, err := session.NewManager(sessionRepo, session.NewRedisCache(rdb), cfg.Session, cfg.SessionSecret, logger)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}
	bookings := booking.NewController(tx, repository.NewBookingRepo(db), repository.NewSlotRepo(db), taskRepo, logger)
	accounts := account.NewOrchestrator(tx, accountRepo, bookings, sessionRepo, sessions, taskRepo, logger)
	items := inventory.NewRetirer(tx, repository.NewItemRepo(db), bookings, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.RegisterRoutes(e, codec, cfg.CookieSecure, handler.Ready(map[string]handler.Pinger{
		"postgres": db,
		"redis":    redisPinger{rdb},
	}))
	router.RegisterSession(e, handler.NewSessionHandler(cfg, accountRepo, sessions), sessions, config.LoadRateLimitConfig(), rdb)
	router.RegisterAdmin(e, handler.NewAdminHandler(accounts, bookings, items, sessions, cfg.RequestTimeout),
		sessions, cfg.CookieSecure, cfg.RequestTimeout)
	router.RegisterInternal(e, handler.NewInternalHandler(sessions, cfg.RequestTimeout), cfg.ServiceSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
