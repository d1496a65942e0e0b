package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/database"
	"github.com/stemsi/exchange-allocator/internal/logger"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/repository"
	"github.com/stemsi/exchange-allocator/internal/service"
	"github.com/stemsi/exchange-allocator/internal/validator"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	adminService := service.NewAdminService(repository.NewAdminRepository(pool), repository.NewRoleRepository(pool))
	authService := service.NewAuthService(cfg, nil)

	roles, err := adminService.ListRoles(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list roles (have migrations run?)")
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Admin User ===")

	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')

	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Newline after password input
	if err != nil {
		fmt.Println("Error reading password")
		os.Exit(1)
	}

	fmt.Println("Available roles:")
	for _, r := range roles {
		fmt.Printf("  %d  %-12s %s\n", r.ID, r.Name, strings.Join(r.Permissions, ", "))
	}
	fmt.Print("Enter Role ID (default 1): ")
	roleIDStr, _ := reader.ReadString('\n')
	roleIDStr = strings.TrimSpace(roleIDStr)
	roleID := 1
	if roleIDStr != "" {
		if roleID, err = strconv.Atoi(roleIDStr); err != nil {
			fmt.Println("Error: Role ID must be a number")
			os.Exit(1)
		}
	}

	req := model.CreateAdminRequest{
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Name:     strings.TrimSpace(name),
		Password: string(bytePassword),
		RoleID:   roleID,
	}
	if fields := validator.Struct(req); fields != nil {
		for field, msg := range fields {
			fmt.Printf("Error: %s: %s\n", field, msg)
		}
		os.Exit(1)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hash, err := authService.HashPassword(req.Password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	newAdmin := &model.Admin{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		RoleID:       req.RoleID,
	}
	if err := adminService.Create(ctx, newAdmin); err != nil {
		log.Fatal().Err(err).Msg("Failed to create admin")
	}

	fmt.Printf("\nSuccess! Admin '%s' (%s) created with ID: %d\n", newAdmin.Name, newAdmin.Email, newAdmin.ID)
}
