package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"parkvision-go/internal/client"
	"parkvision-go/internal/config"
	"parkvision-go/internal/geo"
	"parkvision-go/internal/occupancy"
	"parkvision-go/internal/repository"
	"parkvision-go/internal/service"
	"parkvision-go/internal/tracker"
	"parkvision-go/pkg/models"
)

// version подставляется при сборке через -ldflags
var version = "dev"

// app общее состояние команд после загрузки конфигурации
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	logger     *logrus.Logger
}

func main() {
	// Инициализируем логгер
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	v, err := config.NewViper()
	if err != nil {
		logger.Fatalf("Ошибка инициализации конфигурации: %v", err)
	}

	a := &app{v: v, logger: logger}
	if err := newRootCommand(a).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "parkvision",
		Short:        "Определение занятости парковочных мест по кадрам камеры",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "YAML файл конфигурации")
	flags.String("lots", "", "JSON файл с разметкой мест")
	flags.String("detector-url", "", "Адрес сервиса детекции")
	flags.String("match-strategy", "", "Разрешение конфликтов за места: greedy или optimal")
	flags.String("iou-method", "", "Вычисление IoU: exact или raster")
	flags.String("log-level", "", "Уровень логирования")
	bindFlag(a.v, "lots.path", flags.Lookup("lots"))
	bindFlag(a.v, "detector.base_url", flags.Lookup("detector-url"))
	bindFlag(a.v, "occupancy.strategy", flags.Lookup("match-strategy"))
	bindFlag(a.v, "occupancy.iou_method", flags.Lookup("iou-method"))
	bindFlag(a.v, "log.level", flags.Lookup("log-level"))

	versionCmd := newVersionCommand()
	root.AddCommand(newDetectCommand(a), newStreamCommand(a), versionCmd)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return a.setup()
	}
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parkvision %s\n", version)
		},
	}
}

// setup загружает конфигурацию и настраивает логгер
func (a *app) setup() error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	a.logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		a.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	a.logger.WithFields(logrus.Fields{
		"version":  version,
		"detector": cfg.DetectorAPI.BaseURL,
		"lots":     cfg.Lots.Path,
	}).Debug("Конфигурация загружена")
	return nil
}

func (a *app) lotRepository() repository.LotRepository {
	return repository.NewFileLotRepository(a.cfg.Lots.Path, a.logger)
}

// loadLots читает разметку мест
func (a *app) loadLots() ([]models.Lot, error) {
	lots, err := a.lotRepository().List()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки разметки мест: %w", err)
	}
	a.logger.Infof("Загружено мест: %d", len(lots))
	return lots, nil
}

func (a *app) detectorClient() *client.DetectorAPIClient {
	return client.NewDetectorAPIClient(
		a.cfg.DetectorAPI.BaseURL,
		time.Duration(a.cfg.DetectorAPI.Timeout)*time.Second,
		a.cfg.DetectorAPI.ConfThreshold,
		a.cfg.DetectorAPI.IoUThreshold,
		a.logger,
	)
}

func (a *app) pipelineConfig() service.Config {
	return service.Config{
		ConfThreshold: a.cfg.DetectorAPI.ConfThreshold,
		Occupancy: occupancy.Config{
			Threshold:        a.cfg.Occupancy.MatchThreshold,
			BlockedThreshold: a.cfg.Occupancy.BlockedThreshold,
			Strategy:         occupancy.Strategy(a.cfg.Occupancy.Strategy),
		},
		Tracker: tracker.Config{
			MaxAge:            a.cfg.Tracker.MaxAge,
			MinHits:           a.cfg.Tracker.MinHits,
			IoUThreshold:      a.cfg.Tracker.IoUThreshold,
			MaxCosineDistance: a.cfg.Tracker.MaxCosineDistance,
		},
		SessionTimeout: a.cfg.Session.Timeout,
	}
}

func (a *app) matcher(config occupancy.Config) *occupancy.Matcher {
	return occupancy.NewMatcher(config, geo.NewCalculator(geo.Method(a.cfg.Occupancy.IoUMethod)))
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", flag.Name, err))
	}
}
