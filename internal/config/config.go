package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string
	ServicePort     string
	RabbitMQURL     string
	JWTSecret       string
	WorkspaceBase   string
	DefaultMaxUsers int
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ServicePort:     getEnv("SERVICE_PORT", "5000"),
		RabbitMQURL:     os.Getenv("RABBITMQ_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		WorkspaceBase:   getEnv("WORKSPACE_BASE", "./workspaces"),
		DefaultMaxUsers: getEnvInt("MAX_USERS_DEFAULT", 5),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
