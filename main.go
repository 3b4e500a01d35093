package main

import (
	"log"
	"os"

	"carereminder/config"
	"carereminder/connection"

	"github.com/gin-gonic/gin"
)

func main() {
	path := os.Getenv("CARE_CONFIG")
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	gin.SetMode(cfg.Server.Mode)
	if err := connection.StartServer(cfg); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
