package connection

import (
	"context"
	"fmt"
	"log"

	"carereminder/config"
	"carereminder/services"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func DBConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("✅ Connected to MySQL")
	return db, nil
}

// FBConnection initializes the Firebase app and its Firestore client.
func FBConnection(ctx context.Context, cfg config.FirebaseConfig) (*firebase.App, *firestore.Client, error) {
	app, err := services.InitializeFirebaseApp(ctx, cfg.CredentialsFile, cfg.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Firestore client: %w", err)
	}
	log.Println("✅ Connected to Firestore")
	return app, client, nil
}
