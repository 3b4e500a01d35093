package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carereminder/config"
	"carereminder/controller"
	"carereminder/controller/alarm"
	"carereminder/controller/reminder"
	"carereminder/dispatcher"
	"carereminder/engine"
	"carereminder/scheduler"
	"carereminder/services"
	"carereminder/store"
	"carereminder/timer"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// backends holds the external clients the configuration asked for.
type backends struct {
	app       *firebase.App
	firestore *firestore.Client
}

func (b *backends) Close() {
	if b.firestore != nil {
		if err := b.firestore.Close(); err != nil {
			log.Printf("Failed to close Firestore client: %v", err)
		}
	}
}

func StartServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b backends
	defer b.Close()
	if cfg.UsesFirebase() {
		app, fs, err := FBConnection(ctx, cfg.Firebase)
		if err != nil {
			return err
		}
		b.app, b.firestore = app, fs
	}

	timers := timer.NewReal()
	st, err := newStore(cfg, timers, &b)
	if err != nil {
		return err
	}
	d, err := newDispatcher(ctx, cfg, timers, &b)
	if err != nil {
		return err
	}

	eng := engine.New(st, d, timers)
	defer eng.Stop()
	if err := eng.Recover(ctx); err != nil {
		log.Printf("[engine] ⚠️ %v; the next reconcile will retry", err)
	}
	if _, err := scheduler.StartScheduler(ctx, cfg.Scheduler.ReconcileSpec, eng); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: NewRouter(eng, cfg.Auth.JWTSecret),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down with %d timer(s) armed and %d message(s) queued", timers.Pending(), d.Pending())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func NewRouter(eng *engine.Engine, secret string) *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())

	controller.HealthController(router)

	reminder.ReminderController(router, eng, secret)
	reminder.CreateReminderController(router, eng, secret)
	reminder.UpdateReminderController(router, eng, secret)
	reminder.DeleteReminderController(router, eng, secret)

	alarm.AlarmController(router, eng, secret)
	return router
}

func newStore(cfg *config.Config, clock timer.Clock, b *backends) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreFirestore:
		return store.NewFirestoreStore(b.firestore, cfg.Store.Collection), nil
	case config.StoreMySQL:
		db, err := DBConnection(cfg.Store.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return store.NewSQLStore(db, cfg.Store.PollInterval)
	case config.StoreMemory:
		log.Println("⚠️ Using the in-memory store; reminders are lost on restart")
		return store.NewMemoryStore(clock), nil
	}
	return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
}

func newDispatcher(ctx context.Context, cfg *config.Config, timers timer.Service, b *backends) (*dispatcher.Scheduled, error) {
	var transport dispatcher.Transport
	switch cfg.Dispatcher.Driver {
	case config.DispatcherFCM:
		client, err := b.app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting Messaging client: %w", err)
		}
		transport = dispatcher.NewFCMTransport(client, services.NewFirestoreTokens(b.firestore, cfg.Dispatcher.TokenCollection))
	case config.DispatcherLog:
		transport = dispatcher.LogTransport{}
	default:
		return nil, fmt.Errorf("unknown dispatcher driver: %s", cfg.Dispatcher.Driver)
	}
	return dispatcher.NewScheduled(transport, timers, cfg.Dispatcher.MaxAttempts), nil
}
