package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"basin/channel"
	_ "basin/channel/memory"
	_ "basin/channel/postgres"
	_ "basin/channel/redis"
	"basin/internal/config"
	"basin/internal/engine"
	"basin/internal/logging"
	"basin/internal/telemetry"
	"basin/source/kafka"
)

func main() {
	specPath := flag.String("config", "connector.yml", "path to the connector spec")
	flag.Parse()

	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kafka.Register("sarama", func() kafka.Adapter { return &kafka.SaramaDriver{} })

	if err := run(ctx, *specPath); err != nil {
		log.Fatalf("connector: %v", err)
	}
}

func run(ctx context.Context, specPath string) error {
	spec, kafkaPath, err := config.LoadConnectorSpec(specPath)
	if err != nil {
		return err
	}

	adapter, err := channel.New(spec.Channel.Backend)
	if err != nil {
		return err
	}
	raw, err := spec.ChannelConfig()
	if err != nil {
		return err
	}
	if err := adapter.Configure(raw); err != nil {
		return err
	}

	var opts []engine.Option
	if d := spec.SweepInterval(); d > 0 {
		opts = append(opts, engine.WithSweepInterval(d))
	}
	if d := spec.CloseTimeout(); d > 0 {
		opts = append(opts, engine.WithCloseTimeout(d))
	}
	eng, err := engine.New(adapter, spec.Threshold(), spec.RetryConfig(), opts...)
	if err != nil {
		return err
	}

	kc, err := config.LoadKafkaConfig(kafkaPath)
	if err != nil {
		return err
	}
	src, err := kafka.NewAdapter(spec.Source.Driver)
	if err != nil {
		return err
	}
	if err := src.Configure(kc, eng); err != nil {
		return err
	}

	if spec.MetricsPort > 0 {
		telemetry.Expose(spec.MetricsPort)
	}

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.L().Error("engine maintenance loop stopped", "error", err)
		}
	}()

	logging.L().Info("connector started",
		"backend", spec.Channel.Backend, "driver", spec.Source.Driver, "topics", kc.Topics)
	runErr := src.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// shutdown order matters: stop the source first so nothing new arrives,
	// then let the engine flush and close its channels, then drop the pool
	if err := src.Close(); err != nil {
		logging.L().Warn("source close", "error", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Close(closeCtx); err != nil {
		logging.L().Warn("engine close", "error", err)
	}
	if err := adapter.Close(); err != nil {
		logging.L().Warn("channel adapter close", "error", err)
	}
	return runErr
}
