package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"meeting-insight-service/internal/config"
	"meeting-insight-service/internal/models"
)

func newTailCommand(loadConfig func() (*config.Configuration, error)) *cobra.Command {
	var (
		brokers   string
		topic     string
		partition int
		since     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print progress events mirrored to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			brokerList := cfg.Kafka.Brokers
			if brokers != "" {
				brokerList = strings.Split(brokers, ",")
			}
			if len(brokerList) == 0 {
				return errors.New("no Kafka brokers configured (use --brokers or KAFKA_BROKERS)")
			}
			if topic == "" {
				topic = cfg.Kafka.Topic
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return tailProgress(ctx, cmd.OutOrStdout(), brokerList, topic, partition, since)
		},
	}

	cmd.Flags().StringVar(&brokers, "brokers", "", "Kafka brokers, comma separated")
	cmd.Flags().StringVar(&topic, "topic", "", "Progress topic")
	cmd.Flags().IntVar(&partition, "partition", 0, "Partition to read")
	cmd.Flags().DurationVar(&since, "since", time.Hour, "Start this far back")

	return cmd
}

func tailProgress(ctx context.Context, out io.Writer, brokers []string, topic string, partition int, since time.Duration) error {
	// Partition reader without a consumer group; tailing never commits offsets.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		return fmt.Errorf("seek %s: %w", topic, err)
	}

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "read error on %s: %v\n", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var ev models.ProgressEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			fmt.Fprintf(out, "skipping malformed event at offset %d: %v\n", msg.Offset, err)
			continue
		}
		fmt.Fprintln(out, formatEvent(ev))
	}
}

func formatEvent(ev models.ProgressEvent) string {
	ts := time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339)
	id := ev.JobID
	if id == "" {
		id = ev.AssetID
	}
	if id == "" {
		id = "-"
	}
	line := fmt.Sprintf("%s %-16s %-24s %s", ts, ev.Status, id, ev.Message)
	if ev.ReportFile != "" {
		line += " [" + ev.ReportFile + "]"
	}
	return line
}
