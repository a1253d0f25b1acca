package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"parkvision-go/internal/metrics"
	"parkvision-go/internal/notify"
	"parkvision-go/internal/service"
	"parkvision-go/internal/source"
	"parkvision-go/internal/tracker"
	"parkvision-go/pkg/models"
)

func newDetectCommand(a *app) *cobra.Command {
	var (
		checkHealth bool
		spot        string
	)

	cmd := &cobra.Command{
		Use:   "detect [image]",
		Short: "Определить занятость мест по одному снимку",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lots, err := a.loadLots()
			if err != nil {
				return err
			}

			detector := a.detectorClient()
			if checkHealth {
				health, err := detector.CheckHealth(ctx)
				if err != nil {
					return err
				}
				a.logger.Infof("Сервис детекции доступен: %s, модель %s", health.Status, health.Model)
			}

			frame, err := source.DecodeFile(args[0])
			if err != nil {
				return err
			}

			config := a.pipelineConfig()
			pipeline := service.NewPipeline(config, detector, a.matcher(config.Occupancy), nil, nil, a.logger)
			resp, err := pipeline.Inspect(ctx, frame, lots)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if spot == "" {
				return encoder.Encode(resp)
			}

			// Сопоставление идет по всем местам, выводится только выбранное
			lot, err := a.lotRepository().GetByID(spot)
			if err != nil {
				return err
			}
			for _, status := range resp.Statuses {
				if status.Lot.Index == lot.Index {
					return encoder.Encode(status)
				}
			}
			return fmt.Errorf("нет статуса для места %s", spot)
		},
	}

	cmd.Flags().BoolVar(&checkHealth, "health", false, "Проверить сервис детекции перед запросом")
	cmd.Flags().StringVar(&spot, "spot", "", "Вывести статус только одного места по ID")
	return cmd
}

type streamOptions struct {
	dir    string
	replay string
}

func newStreamCommand(a *app) *cobra.Command {
	opts := &streamOptions{}

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Обработать поток кадров с трекингом и сессиями стоянки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (opts.dir == "") == (opts.replay == "") {
				return errors.New("нужно указать ровно один источник: --dir или --replay")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runStream(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.dir, "dir", "", "Каталог с кадрами")
	flags.StringVar(&opts.replay, "replay", "", "JSONL файл с записанными детекциями")
	flags.Float64("fps", 0, "Частота кадров каталога")
	flags.Bool("appearance", false, "Учитывать внешний вид при трекинге")
	flags.Bool("mqtt", false, "Публиковать статусы мест в MQTT")
	flags.String("metrics-textfile", "", "Файл для выгрузки метрик Prometheus")
	bindFlag(a.v, "stream.fps", flags.Lookup("fps"))
	bindFlag(a.v, "tracker.appearance", flags.Lookup("appearance"))
	bindFlag(a.v, "mqtt.enabled", flags.Lookup("mqtt"))
	bindFlag(a.v, "metrics.textfile", flags.Lookup("metrics-textfile"))
	return cmd
}

func (a *app) runStream(ctx context.Context, opts *streamOptions) error {
	runID := uuid.NewString()
	logger := a.logger.WithField("run", runID)

	lots, err := a.loadLots()
	if err != nil {
		return err
	}

	var (
		src      service.FrameSource
		detector service.Detector
	)
	if opts.replay != "" {
		replay, err := source.OpenReplayFile(opts.replay, a.logger)
		if err != nil {
			return err
		}
		defer replay.Close()
		src, detector = replay, replay
	} else {
		dir, err := source.NewDirSource(opts.dir, a.cfg.Stream.FPS, a.logger)
		if err != nil {
			return err
		}
		logger.Infof("Кадров в каталоге: %d", dir.Len())
		src, detector = dir, a.detectorClient()
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	var publisher *notify.Publisher
	if a.cfg.MQTT.Enabled {
		publisher = notify.NewPublisher(notify.Config{
			Broker:      a.cfg.MQTT.Broker,
			ClientID:    a.cfg.MQTT.ClientID,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			TopicPrefix: a.cfg.MQTT.TopicPrefix,
			QoS:         byte(a.cfg.MQTT.QoS),
		}, a.logger, m)
		if err := publisher.Connect(ctx); err != nil {
			return err
		}
		defer publisher.Close()
	}

	var embedder tracker.Embedder
	if a.cfg.Tracker.Appearance {
		embedder = tracker.NewHistogramEmbedder(a.cfg.Tracker.HistogramBins)
	}
	config := a.pipelineConfig()
	trk := tracker.NewTracker(config.Tracker, a.logger, embedder)
	pipeline := service.NewPipeline(config, detector, a.matcher(config.Occupancy), trk, m, a.logger)

	started := time.Now()
	drained, runErr := pipeline.ProcessStream(ctx, src, lots, func(r service.FrameResult) {
		for _, c := range r.Completed {
			logSession(logger, c)
		}
		logger.WithFields(logrus.Fields{
			"frame":    r.Frame.Index,
			"occupied": r.Summary.OccupiedSpaces,
			"live":     len(pipeline.LiveSessions()),
		}).Debug("Состояние парковки")
		if publisher == nil {
			return
		}
		// Ошибки публикации не останавливают обработку потока
		if _, err := publisher.PublishStatuses(ctx, r.Frame.Timestamp, r.Statuses); err != nil {
			logger.Warnf("Ошибка публикации статусов мест: %v", err)
		}
		if err := publisher.PublishSummary(ctx, r.Frame.Timestamp, r.Summary); err != nil {
			logger.Warnf("Ошибка публикации сводки: %v", err)
		}
		if err := publisher.PublishSessions(ctx, r.Completed); err != nil {
			logger.Warnf("Ошибка публикации сессий: %v", err)
		}
	})

	for _, c := range drained {
		logSession(logger, c)
	}
	if publisher != nil && len(drained) > 0 {
		// ctx может быть уже отменен, завершенные сессии отправляем отдельно
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := publisher.PublishSessions(flushCtx, drained); err != nil {
			logger.Warnf("Ошибка публикации сессий: %v", err)
		}
		cancel()
	}

	if a.cfg.Metrics.TextfilePath != "" {
		if err := metrics.WriteTextfile(a.cfg.Metrics.TextfilePath, registry); err != nil {
			logger.Errorf("Ошибка записи метрик: %v", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"elapsed":  time.Since(started).String(),
		"sessions": len(drained),
	}).Info("Поток обработан")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("обработка потока прервана: %w", runErr)
	}
	return nil
}

func logSession(logger *logrus.Entry, c models.CompletedSession) {
	logger.WithFields(logrus.Fields{
		"event":    c.EventID,
		"track_id": c.TrackID,
		"class":    c.ClassName,
		"duration": c.Duration,
	}).Info("Сессия стоянки завершена")
}
