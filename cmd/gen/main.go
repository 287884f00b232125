package main

import (
	"flag"

	"github.com/utrading/utrading-copy-trader/config"
	"github.com/utrading/utrading-copy-trader/internal/dal"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

func main() {
	var configFile, outPath string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.StringVar(&outPath, "out", "internal/dal/query", "generated query package dir")
	flag.Parse()

	if err := config.Init(configFile); err != nil {
		panic(err)
	}
	defer config.Stop()
	cfg := config.Get()

	if err := dal.InitDB(cfg.Database, cfg.MySQL); err != nil {
		logger.Fatal().Err(err).Msg("init database failed")
	}
	defer dal.CloseDB()

	dal.GenExecute(outPath, dal.DB())
	logger.Info().Str("out", outPath).Msg("query code generated")
}
