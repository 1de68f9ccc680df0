//cmd/seeder/main.go
package main

import (
    "context"
    "os"

    "github.com/unclebandit/wagateway/internal/config"
    "github.com/unclebandit/wagateway/internal/db"
    "github.com/unclebandit/wagateway/internal/logger"
)

func main() {
    cfg, _, err := config.Load()
    log := logger.New(cfg.AppEnv)
    if err != nil {
        log.Fatal().Err(err).Msg("invalid configuration")
    }

    conn, err := db.Open(context.Background(), cfg.DatabaseURL)
    if err != nil {
        log.Fatal().Err(err).Msg("connect to database")
    }
    defer conn.Close()

    seedFiles := []string{
        "seed/schema.sql",
        "seed/accounts.sql",
        "seed/templates.sql",
    }

    for _, file := range seedFiles {
        content, err := os.ReadFile(file)
        if err != nil {
            log.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
        }

        if _, err := conn.Exec(string(content)); err != nil {
            log.Fatal().Err(err).Str("file", file).Msg("failed to execute seed file")
        }
        log.Info().Str("file", file).Msg("seeded")
    }

    log.Info().Msg("database seeding completed successfully")
}
