package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Debug("command failed", zap.Error(err))
		os.Exit(1)
	}
}
