package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"storefront/internal/logging"
	"storefront/internal/relay/mtproto"
)

// loginConfig is the subset of settings needed to authorize the relay account
type loginConfig struct {
	AppID       int    `env:"TELEGRAM_API_ID,notEmpty"`
	AppHash     string `env:"TELEGRAM_API_HASH,notEmpty"`
	Phone       string `env:"TELEGRAM_PHONE,notEmpty"`
	Password    string `env:"TELEGRAM_2FA_PASSWORD"`
	SessionFile string `env:"RELAY_SESSION_FILE" envDefault:"session.json"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using existing environment variables")
	}

	var cfg loginConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}

	logger, err := logging.New("info", "console")
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := mtproto.New(mtproto.Config{
		AppID:       cfg.AppID,
		AppHash:     cfg.AppHash,
		SessionFile: cfg.SessionFile,
	}, logger)

	stdin := bufio.NewReader(os.Stdin)
	err = client.Login(ctx, cfg.Phone, cfg.Password, func(context.Context) (string, error) {
		fmt.Print("Enter the login code: ")
		code, err := stdin.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(code), nil
	})
	if err != nil {
		logger.Fatal("Relay login failed", zap.Error(err))
	}

	logger.Info("Session saved", zap.String("session_file", cfg.SessionFile))
}
