package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/service"
	"golang.org/x/term"
)

func main() {
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

	examRepo := repository.NewExamRepository(pool)
	authService := service.NewAuthService(cfg)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Set Exam Password ===")

	fmt.Print("Enter Exam ID: ")
	rawID, _ := reader.ReadString('\n')
	examID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		fmt.Println("Error: Exam ID must be a UUID")
		return
	}

	exam, err := examRepo.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fmt.Println("Error: Exam not found")
			return
		}
		log.Fatal().Err(err).Msg("Failed to load exam")
	}
	fmt.Printf("Exam: %s (v%d, %s)\n", exam.Title, exam.Version, exam.Status)

	fmt.Print("Enter Password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	fmt.Print("Confirm Password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}

	password := string(first)
	if password != string(second) {
		fmt.Println("Error: Passwords do not match")
		return
	}
	if len(password) < 4 {
		fmt.Println("Error: Password must be at least 4 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hash, err := authService.HashPassword(password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	if err := examRepo.UpdatePasswordHash(ctx, examID, hash); err != nil {
		log.Fatal().Err(err).Msg("Failed to update exam password")
	}

	fmt.Printf("\nSuccess! Password set for exam '%s'\n", exam.Title)
}
