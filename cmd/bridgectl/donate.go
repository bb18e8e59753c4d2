package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/donation"
)

func donateCmd() *cobra.Command {
	var (
		campaignAddr string
		amountStr    string
		strategy     string
		assumeYes    bool
	)

	cmd := &cobra.Command{
		Use:   "donate",
		Short: "Donate tokens to a campaign (approves the campaign first when needed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(campaignAddr) {
				return fmt.Errorf("--campaign must be a hex address")
			}
			amount, err := decimal.NewFromString(amountStr)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Donation.DonorPrivateKey == "" {
				return errors.New("donation.donor_private_key is not configured")
			}
			if strategy == "" {
				strategy = cfg.Donation.AllowanceStrategy
			}

			ctx := cmd.Context()
			chain, err := dialChain(ctx, cfg)
			if err != nil {
				return err
			}
			defer chain.Close()

			signer, err := blockchain.NewSigner(cfg.Donation.DonorPrivateKey, cfg.Blockchain.ChainID)
			if err != nil {
				return fmt.Errorf("load donor key: %w", err)
			}

			base, err := contract.ToBaseUnits(amount, cfg.Blockchain.TokenDecimals)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}

			tokenAddr := common.HexToAddress(cfg.Blockchain.TokenAddress)
			campaign := common.HexToAddress(campaignAddr)
			out := cmd.OutOrStdout()

			var confirm donation.ConfirmFunc
			if !assumeYes {
				confirm = promptConfirm(cmd.InOrStdin(), out)
			}
			wallet := donation.NewKeyWallet(chain, signer, &donation.KeyWalletConfig{
				GasLimit:      cfg.Blockchain.GasLimit,
				Confirmations: cfg.Donation.Confirmations,
				PollInterval:  time.Duration(cfg.Blockchain.PollInterval) * time.Millisecond,
				Confirm:       confirm,
				Labels: map[common.Address]string{
					tokenAddr: fmt.Sprintf("approve %s to spend %s tokens", campaign.Hex(), amount),
					campaign:  fmt.Sprintf("donate %s tokens", amount),
				},
			})

			client := donation.NewClient(wallet, contract.NewToken(tokenAddr, chain), chain, &donation.Config{
				ChainID:      cfg.Blockchain.ChainID,
				Strategy:     donation.AllowanceStrategy(strategy),
				AwaitTimeout: time.Duration(cfg.Donation.AwaitTimeout) * time.Second,
			})
			client.OnStateChange(func(from, to donation.State) {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s -> %s\n", from, to)
			})

			fmt.Fprintf(out, "Donating %s from %s to %s\n", amount, signer.Address().Hex(), campaign.Hex())
			res, err := client.Donate(ctx, campaign, base)
			if err != nil {
				kind := donation.KindOf(err)
				if kind == donation.KindPending {
					fmt.Fprintf(out, "\nDonation pending: %v\n", err)
					var derr *donation.Error
					if errors.As(err, &derr) && derr.TxHash != (common.Hash{}) {
						fmt.Fprintf(out, "  Pending tx:  %s\n", derr.TxHash.Hex())
					}
					fmt.Fprintf(out, "Next step: %s\n", kind.Remediation())
					return errors.New("donation pending")
				}
				fmt.Fprintf(out, "\nDonation failed (%s): %v\n", kind, err)
				fmt.Fprintf(out, "Next step: %s\n", kind.Remediation())
				return errors.New("donation failed")
			}

			decimals := cfg.Blockchain.TokenDecimals
			fmt.Fprintln(out, "\nDonation settled")
			if res.Approved {
				fmt.Fprintf(out, "  Approve tx:  %s\n", res.ApproveTx.Hex())
			}
			fmt.Fprintf(out, "  Donate tx:   %s\n", res.DonateTx.Hex())
			if res.Raised != nil {
				fmt.Fprintf(out, "  Raised:      %s\n", contract.FromBaseUnits(res.Raised, decimals))
				fmt.Fprintf(out, "  Donors:      %s\n", res.DonorCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&campaignAddr, "campaign", "", "campaign contract address")
	cmd.Flags().StringVar(&amountStr, "amount", "", "token amount, e.g. 25.5")
	cmd.Flags().StringVar(&strategy, "allowance", "", "allowance strategy: exact or unlimited (default from config)")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "sign without prompting")
	_ = cmd.MarkFlagRequired("campaign")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

// promptConfirm 每次签名前在终端询问，非 y/yes 视为拒签
func promptConfirm(in io.Reader, out io.Writer) donation.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(action string, to common.Address) bool {
		fmt.Fprintf(out, "Sign transaction to %s: %s? [y/N] ", to.Hex(), action)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}
