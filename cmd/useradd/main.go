// Command useradd registers an API user and prints its token once.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/sifan077/PowerPush/config"
	"github.com/sifan077/PowerPush/internal/app/model"
	apprepository "github.com/sifan077/PowerPush/internal/app/repository"
	"github.com/sifan077/PowerPush/internal/http/middleware"
	"github.com/sifan077/PowerPush/internal/infra/database"
	"github.com/sifan077/PowerPush/internal/infra/logger"
	"go.uber.org/zap"
)

func main() {
	email := flag.String("email", "", "email address of the new user")
	admin := flag.Bool("admin", false, "grant administrator rights")
	flag.Parse()

	log := logger.MustInit(logger.Config{Development: true, Level: "warn"})
	defer func() { _ = logger.Sync() }()

	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	db, err := database.NewGorm(cfg.Database, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	if err := database.AutoMigrate(ctx, db, database.Models...); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		log.Fatal("Failed to generate token", zap.Error(err))
	}
	token := base64.RawURLEncoding.EncodeToString(raw[:])

	user := &model.User{
		Email:    *email,
		APIToken: middleware.DigestAPIToken(token),
		Admin:    *admin,
	}
	if err := apprepository.NewUserRepository(db).Create(ctx, user); err != nil {
		log.Fatal("Failed to create user", zap.Error(err))
	}

	fmt.Printf("%s: %s\n", middleware.UserEmailHeader, user.Email)
	fmt.Printf("%s: %s\n", middleware.UserTokenHeader, token)
}
