package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/detailhub/zoneconfigurator/internal/asset"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Manage vehicle model records",
}

var assetsSeedFile string

var assetsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert vehicle model records into PostgreSQL",
	Long:  "Reads vehicle model records from a YAML seed file and upserts them into the vehicle_models table configured under assets.postgres.",
	Args:  cobra.NoArgs,
	RunE:  runAssetsSeed,
}

func init() {
	assetsSeedCmd.Flags().StringVarP(&assetsSeedFile, "file", "f", "", "YAML seed file (required)")
	if err := assetsSeedCmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("failed to mark file flag as required: %v", err))
	}
	assetsCmd.AddCommand(assetsSeedCmd)
	rootCmd.AddCommand(assetsCmd)
}

func runAssetsSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	records, err := asset.LoadSeedFile(assetsSeedFile)
	if err != nil {
		return err
	}

	var cleanup closers
	defer cleanup.run()
	backends := &backendSet{logger: zap.NewNop(), closers: &cleanup}

	ctx := cmd.Context()
	pool, err := backends.postgres(ctx, "asset repository", cfg.Assets.Postgres)
	if err != nil {
		return err
	}
	repo := asset.NewPgRepository(pool)

	for _, rec := range records {
		saved, err := repo.Put(ctx, rec)
		if err != nil {
			return fmt.Errorf("seed %s %s: %w", rec.Make, rec.Model, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "upserted %s (%s %s, active=%t)\n", saved.ID, saved.Make, saved.Model, saved.IsActive)
	}
	return nil
}
