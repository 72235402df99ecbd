package main

import (
	"flag"

	"rebalancer/pkg/config"
	"rebalancer/pkg/logger"
)

func main() {
	down := flag.Bool("down", false, "roll back the last migration")
	flag.Parse()

	settings := config.Load()
	logger.Init(settings.LoggerOptions())

	config.InitDB()
	if *down {
		config.RollbackMigration()
		return
	}
	config.ExecuteMigrations()
}
