package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos-bridge/internal/service"
)

func progressCmd() *cobra.Command {
	var campaignAddr string

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show campaign progress (on-chain when reachable, mirror otherwise)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			mirror, closeMirror, err := openMirror(cfg)
			if err != nil {
				return err
			}
			defer closeMirror()

			var chain service.ChainInspector
			client, err := dialChain(cmd.Context(), cfg)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "chain unavailable: %v\n", err)
			} else {
				defer client.Close()
				chain = client
			}

			recon := service.NewReconciliationService(mirror, chain, cfg.Blockchain.ChainID,
				cfg.Blockchain.TokenDecimals, time.Duration(cfg.Reconciliation.ReadTimeout)*time.Second)
			p, err := recon.ResolveProgress(cmd.Context(), campaignAddr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Campaign %s\n", p.ContractAddress)
			fmt.Fprintf(out, "  Raised:   %s / %s\n", p.Raised, p.Goal)
			fmt.Fprintf(out, "  Balance:  %s\n", p.Balance)
			fmt.Fprintf(out, "  Donors:   %d\n", p.DonorCount)
			fmt.Fprintf(out, "  Active:   %t\n", p.Active)
			fmt.Fprintf(out, "  Source:   %s\n", p.Source)
			if p.Stale {
				synced := "never"
				if p.SyncedAt > 0 {
					synced = time.UnixMilli(p.SyncedAt).Format(time.RFC3339)
				}
				fmt.Fprintf(out, "  STALE: chain unreadable, mirror last synced %s\n", synced)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&campaignAddr, "campaign", "", "campaign contract address")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

// openMirror postgres 后端时读取服务的活动镜像，否则使用空镜像
func openMirror(cfg *config.Config) (repository.CampaignRepository, func(), error) {
	if cfg.Ledger.Backend != config.LedgerBackendPostgres {
		return repository.NewMemoryCampaignRepository(), func() {}, nil
	}

	pg := cfg.Postgres
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return repository.NewCampaignRepository(db), closeFn, nil
}
