package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_position_engine/internal/domain"
	"github.com/vitos/crypto_position_engine/internal/infrastructure/feed"
	"github.com/vitos/crypto_position_engine/internal/infrastructure/logger"
	"github.com/vitos/crypto_position_engine/internal/infrastructure/router"
	"github.com/vitos/crypto_position_engine/internal/infrastructure/storage"
	"github.com/vitos/crypto_position_engine/internal/usecase"
)

type Config struct {
	Feed struct {
		WSEndpoint string `yaml:"ws_endpoint"`
	} `yaml:"feed"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Engine struct {
		TickBuffer         int     `yaml:"tick_buffer"`
		StalenessTimeoutMs int     `yaml:"staleness_timeout_ms"`
		PositionSize       float64 `yaml:"position_size"`
	} `yaml:"engine"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// The paper router resolves symbols through the supervisor; the variable
	// is assigned right after, before any intent can flow.
	var supervisor *usecase.PositionSupervisor
	paper := router.NewPaperRouter(log, 256, func(positionID string) (string, bool) {
		if supervisor == nil {
			return "", false
		}
		return supervisor.SymbolOf(positionID)
	})

	supervisor = usecase.NewPositionSupervisor(paper, store, log, usecase.SupervisorOptions{
		TickBuffer:       cfg.Engine.TickBuffer,
		StalenessTimeout: time.Duration(cfg.Engine.StalenessTimeoutMs) * time.Millisecond,
	})

	ctx := context.Background()
	strategies, err := store.List(ctx)
	if err != nil {
		log.Fatal("Failed to load strategies", zap.Error(err))
	}
	if len(strategies) == 0 {
		log.Warn("No strategies stored, nothing to arm")
	}

	priceFeed := feed.NewBybitFeed(cfg.Feed.WSEndpoint, log)
	priceFeed.OnTick(func(tick domain.PriceTick) {
		supervisor.Dispatch(tick)
		paper.OnTick(tick)
	})

	size := decimal.NewFromFloat(cfg.Engine.PositionSize)
	var symbols []string
	for _, strategy := range strategies {
		// Arming waits for the first tick of the symbol to anchor the ladder.
		symbols = append(symbols, strategy.Config.CoinPair)
		armOnFirstTick(priceFeed, supervisor, strategy, size, log)
	}
	symbols = lo.Uniq(symbols)

	if len(symbols) > 0 {
		if err := priceFeed.Subscribe(symbols); err != nil {
			log.Fatal("Failed to subscribe to price feed", zap.Error(err))
		}
		log.Info("price feed subscribed", zap.Strings("symbols", symbols))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down", zap.Int("active_positions", supervisor.ActiveCount()))
	priceFeed.Close()
	supervisor.Close()
}

// armOnFirstTick arms the strategy once, using the first observed price of
// its symbol as the ladder reference.
func armOnFirstTick(priceFeed *feed.BybitFeed, supervisor *usecase.PositionSupervisor,
	strategy *domain.StoredStrategy, size decimal.Decimal, log *zap.Logger) {

	armed := false
	priceFeed.OnTick(func(tick domain.PriceTick) {
		if armed || tick.Symbol != strategy.Config.CoinPair {
			return
		}
		armed = true
		id, err := supervisor.Arm(context.Background(), strategy, domain.SideLong, size, tick.Price)
		if err != nil {
			log.Error("strategy rejected", zap.String("strategy", strategy.ID), zap.Error(err))
			return
		}
		log.Info("strategy armed",
			zap.String("strategy", strategy.ID),
			zap.String("position", id),
			zap.String("reference", tick.Price.String()))
	})
}
