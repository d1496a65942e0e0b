package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/database"
	"github.com/stemsi/exchange-allocator/internal/logger"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/repository"
	"github.com/stemsi/exchange-allocator/internal/service"
)

func main() {
	var roleID int
	flag.IntVar(&roleID, "role", 1, "Role that receives every permission (1 = Superadmin)")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	adminService := service.NewAdminService(repository.NewAdminRepository(pool), repository.NewRoleRepository(pool))

	fmt.Println("=== Sync Permissions ===")
	fmt.Printf("Registering %d permission codes and granting all of them to role %d.\n", len(model.AllPermissions), roleID)

	added, err := adminService.SyncPermissions(ctx, roleID)
	if err != nil {
		log.Fatal().Err(err).Int("role_id", roleID).Msg("Failed to sync permissions")
	}

	fmt.Printf("\nSuccess! %d new permission codes registered; role %d now has full access.\n", added, roleID)
}
