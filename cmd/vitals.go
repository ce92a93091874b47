package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"vale/internal/broker"
	"vale/internal/protocol"
	"vale/internal/pubsub"
)

var (
	vitalsRedisURL  string
	vitalsHeartRate float64
	vitalsSpO2      float64
	vitalsStress    float64
)

var vitalsCmd = &cobra.Command{
	Use:   "vitals <user-id>",
	Short: "Publish a vitals reading for a user's device",
	Long: `Publishes one reading on the sensorData channel. The bridge pushes it
to the user's device if one is connected; delivery is best-effort with no
reply and no correlation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bus, err := pubsub.NewRedisBus(vitalsRedisURL)
		if err != nil {
			return fmt.Errorf("failed to create redis bus: %w", err)
		}
		defer bus.Close()

		b := broker.NewBroker(bus)
		reading := &protocol.VitalsReading{
			UserID:    args[0],
			HeartRate: vitalsHeartRate,
			SpO2:      vitalsSpO2,
			Stress:    vitalsStress,
		}

		if err := b.PublishVitals(context.Background(), reading); err != nil {
			return err
		}

		cmd.Printf("Vitals published for user %s\n", args[0])
		return nil
	},
}

func init() {
	vitalsCmd.Flags().StringVarP(&vitalsRedisURL, "redis", "r", "redis://localhost:6379/0", "redis URL")
	vitalsCmd.Flags().Float64Var(&vitalsHeartRate, "heart-rate", 0, "heart rate in bpm")
	vitalsCmd.Flags().Float64Var(&vitalsSpO2, "spo2", 0, "blood oxygen saturation percentage")
	vitalsCmd.Flags().Float64Var(&vitalsStress, "stress", 0, "stress index")
}
