package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/atmx/fixedrate-engine/internal/api"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/registry"
)

const (
	FlagServer = "server"
	FlagFrom   = "from"
)

var (
	serverURL string
	fromAddr  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "frectl",
		Short: "Command-line client for the fixed-rate exchange engine",
		Long: `frectl drives a running fixedrate-engine over HTTP.

Amounts are given in human units of the token involved (e.g. 12.5) and
converted with the token's decimals. Rates and fees are decimal fractions.`,
		SilenceUsage: true,
	}

	defaultServer := os.Getenv("FRE_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, FlagServer, "s", defaultServer, "Engine base URL (env FRE_SERVER)")
	rootCmd.PersistentFlags().StringVar(&fromAddr, FlagFrom, os.Getenv("FRE_FROM"), "Caller address (env FRE_FROM)")

	rootCmd.AddCommand(
		exchangesCmd(),
		tokensCmd(),
		registryCmd(),
		getCmd("account-events <address>", "Show every event an address took part in", "/accounts/%s/events"),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func cli() *client {
	return newClient(serverURL, fromAddr)
}

// --- Exchanges ---

func exchangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exchanges",
		Aliases: []string{"ex"},
		Short:   "List, create, and trade on exchanges",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every exchange",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var list []model.ExchangeView
				if err := cli().do("GET", "/exchanges", nil, &list); err != nil {
					return err
				}
				for _, ex := range list {
					fmt.Printf("%s  rate=%s  active=%t  dt_supply=%s  bt_supply=%s\n",
						ex.ID.Hex(),
						formatAmount(ex.FixedRate, 18),
						ex.Active,
						formatAmount(ex.DTSupply, ex.DTDecimals),
						formatAmount(ex.BTSupply, ex.BTDecimals),
					)
				}
				return nil
			},
		},
		getCmd("get <exchange-id>", "Show one exchange", "/exchanges/%s"),
		getCmd("fees <exchange-id>", "Show fee configuration and accrued fees", "/exchanges/%s/fees"),
		getCmd("events <exchange-id>", "Show the event history of an exchange", "/exchanges/%s/events"),
		createExchangeCmd(),
		swapCmd(model.Buy),
		swapCmd(model.Sell),
		quoteCmd(),
		setRateCmd(),
		exchangeActionCmd("toggle <exchange-id>", "Activate or deactivate an exchange", "/toggle"),
		exchangeActionCmd("collect-bt <exchange-id>", "Withdraw base token custody to the owner", "/collect/bt"),
		exchangeActionCmd("collect-dt <exchange-id>", "Withdraw data token custody to the owner", "/collect/dt"),
		exchangeActionCmd("collect-market-fee <exchange-id>", "Pay accrued market fees to the collector", "/collect/market-fee"),
		exchangeActionCmd("collect-ocean-fee <exchange-id>", "Pay accrued protocol fees to the registry collector", "/collect/ocean-fee"),
		addressCmd("set-swapper <exchange-id> <address>", "Restrict swaps to one address (0x0 lifts it)", "/exchanges/%s/allowed-swapper"),
		addressCmd("set-fee-collector <exchange-id> <address>", "Hand over the market fee collector role", "/exchanges/%s/market-fee-collector"),
		setWithMintCmd(),
	)
	return cmd
}

func getCmd(use, short, pathFmt string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cli().do("GET", fmt.Sprintf(pathFmt, args[0]), nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func createExchangeCmd() *cobra.Command {
	var (
		rate, marketFee, collector, swapper string
		withMint                            bool
	)
	cmd := &cobra.Command{
		Use:   "create <data-token> <base-token>",
		Short: "List a data token against a base token",
		Long: `Create a fixed-rate exchange owned by --from.

Example:
  frectl ex create 0xDT... 0xOCEAN... --rate 1.5 --market-fee 0.01 --from 0xOwner...

A rate of 0 creates a dispenser that gives the data token away.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli()
			dt, err := c.token(args[0])
			if err != nil {
				return err
			}
			bt, err := c.token(args[1])
			if err != nil {
				return err
			}
			req := api.CreateExchangeRequest{
				DataToken:          args[0],
				BaseToken:          args[1],
				DTDecimals:         dt.Decimals,
				BTDecimals:         bt.Decimals,
				MarketFeeCollector: collector,
				AllowedSwapper:     swapper,
				WithMint:           withMint,
			}
			if req.Rate, err = fraction(rate); err != nil {
				return err
			}
			if req.MarketFee, err = fraction(marketFee); err != nil {
				return err
			}
			var ex model.Exchange
			if err := c.do("POST", "/exchanges", req, &ex); err != nil {
				return err
			}
			fmt.Println(ex.ID.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&rate, "rate", "1", "Base tokens per data token")
	cmd.Flags().StringVar(&marketFee, "market-fee", "0", "Market fee fraction, e.g. 0.001")
	cmd.Flags().StringVar(&collector, "fee-collector", "", "Market fee collector (default: the owner)")
	cmd.Flags().StringVar(&swapper, "allowed-swapper", "", "Only this address may swap")
	cmd.Flags().BoolVar(&withMint, "with-mint", false, "Mint data tokens when custody is insufficient")
	return cmd
}

func swapCmd(dir model.Direction) *cobra.Command {
	var limit, consumeMarket, consumeFee string
	short := "Buy data tokens with base tokens"
	limitHelp := "Most base tokens to pay"
	if dir == model.Sell {
		short = "Sell data tokens for base tokens"
		limitHelp = "Fewest base tokens to accept"
	}
	cmd := &cobra.Command{
		Use:   string(dir) + " <exchange-id> <dt-amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli()
			ex, err := c.exchange(args[0])
			if err != nil {
				return err
			}
			req := api.SwapRequest{ConsumeMarket: consumeMarket}
			if req.DTAmount, err = baseUnits(args[1], ex.DTDecimals); err != nil {
				return err
			}
			if req.Limit, err = baseUnits(limit, ex.BTDecimals); err != nil {
				return err
			}
			if req.ConsumeMarketFee, err = fraction(consumeFee); err != nil {
				return err
			}
			var resp api.SwapResponse
			if err := c.do("POST", "/exchanges/"+args[0]+"/"+string(dir), req, &resp); err != nil {
				return err
			}
			fmt.Printf("%s %s DT for %s base tokens (fees: market %s, protocol %s, consume %s)\n",
				dir, resp.Display.DTAmount, resp.Display.BaseAmount,
				formatAmount(resp.MarketFee, ex.BTDecimals),
				formatAmount(resp.OceanFee, ex.BTDecimals),
				formatAmount(resp.ConsumeMarketFee, ex.BTDecimals),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&limit, "limit", "", limitHelp)
	cmd.Flags().StringVar(&consumeMarket, "consume-market", "", "Consume market paid a referral fee")
	cmd.Flags().StringVar(&consumeFee, "consume-fee", "", "Consume market fee fraction")
	return cmd
}

func quoteCmd() *cobra.Command {
	var consumeMarket, consumeFee string
	cmd := &cobra.Command{
		Use:   "quote <buy|sell> <exchange-id> <dt-amount>",
		Short: "Price a swap without executing it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := model.Direction(args[0])
			if dir != model.Buy && dir != model.Sell {
				return fmt.Errorf("direction must be buy or sell, got %q", args[0])
			}
			c := cli()
			ex, err := c.exchange(args[1])
			if err != nil {
				return err
			}
			amount, err := baseUnits(args[2], ex.DTDecimals)
			if err != nil {
				return err
			}
			fee, err := fraction(consumeFee)
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/exchanges/%s/quote/%s?dt_amount=%s&consume_market=%s&consume_market_fee=%s",
				args[1], dir, amount, consumeMarket, fee)
			var q api.QuoteResponse
			if err := c.do("GET", path, nil, &q); err != nil {
				return err
			}
			return printJSON(q)
		},
	}
	cmd.Flags().StringVar(&consumeMarket, "consume-market", "", "Consume market paid a referral fee")
	cmd.Flags().StringVar(&consumeFee, "consume-fee", "", "Consume market fee fraction")
	return cmd
}

func setRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-rate <exchange-id> <rate>",
		Short: "Change the fixed rate of an exchange",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := fraction(args[1])
			if err != nil {
				return err
			}
			var ev model.Event
			if err := cli().do("PUT", "/exchanges/"+args[0]+"/rate", api.RateRequest{Rate: rate}, &ev); err != nil {
				return err
			}
			return printJSON(ev)
		},
	}
}

func exchangeActionCmd(use, short, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ev model.Event
			if err := cli().do("POST", "/exchanges/"+args[0]+suffix, nil, &ev); err != nil {
				return err
			}
			return printJSON(ev)
		},
	}
}

func setWithMintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-with-mint <exchange-id> <true|false>",
		Short: "Choose whether buys custody cannot cover are minted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid mint state %q", args[1])
			}
			var ev model.Event
			if err := cli().do("PUT", "/exchanges/"+args[0]+"/with-mint", api.WithMintRequest{WithMint: on}, &ev); err != nil {
				return err
			}
			return printJSON(ev)
		},
	}
}

func addressCmd(use, short, pathFmt string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cli().do("PUT", fmt.Sprintf(pathFmt, args[0]), api.AddressRequest{Address: args[1]}, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

// --- Tokens ---

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Deploy and move tokens",
	}

	var capacity string
	var minters []string
	deploy := &cobra.Command{
		Use:   "deploy <symbol> <decimals>",
		Short: "Deploy a token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var decimals uint8
			if _, err := fmt.Sscan(args[1], &decimals); err != nil {
				return fmt.Errorf("decimals: %w", err)
			}
			capUnits, err := baseUnits(capacity, decimals)
			if err != nil {
				return err
			}
			var t api.TokenInfo
			req := api.DeployTokenRequest{Symbol: args[0], Decimals: decimals, Cap: capUnits, Minters: minters}
			if err := cli().do("POST", "/tokens", req, &t); err != nil {
				return err
			}
			fmt.Println(t.Address.Hex())
			return nil
		},
	}
	deploy.Flags().StringVar(&capacity, "cap", "", "Supply cap (default: uncapped)")
	deploy.Flags().StringSliceVar(&minters, "minter", nil, "Addresses allowed to mint")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List tokens",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var list []api.TokenInfo
				if err := cli().do("GET", "/tokens", nil, &list); err != nil {
					return err
				}
				for _, t := range list {
					fmt.Printf("%-8s %s  decimals=%d  supply=%s\n", t.Symbol, t.Address.Hex(), t.Decimals, t.Display)
				}
				return nil
			},
		},
		deploy,
		&cobra.Command{
			Use:   "balance <token> <holder>",
			Short: "Show a balance and the engine allowance",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var b api.BalanceResponse
				if err := cli().do("GET", "/tokens/"+args[0]+"/balances/"+args[1], nil, &b); err != nil {
					return err
				}
				return printJSON(b)
			},
		},
		tokenActionCmd("mint", "Mint tokens to an address (caller must be a minter)"),
		tokenActionCmd("approve", "Approve a spender, usually the engine"),
		tokenActionCmd("transfer", "Transfer tokens"),
	)
	return cmd
}

func tokenActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <token> <to> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli()
			t, err := c.token(args[0])
			if err != nil {
				return err
			}
			amount, err := baseUnits(args[2], t.Decimals)
			if err != nil {
				return err
			}
			var b api.BalanceResponse
			req := api.TokenActionRequest{To: args[1], Amount: amount}
			if err := c.do("POST", "/tokens/"+args[0]+"/"+action, req, &b); err != nil {
				return err
			}
			fmt.Printf("%s now holds %s %s\n", b.Holder.Hex(), b.Display, t.Symbol)
			return nil
		},
	}
}

// --- Registry ---

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and govern the protocol fee registry",
	}
	show := func(s registry.Snapshot) error { return printJSON(s) }

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the registry configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var s registry.Snapshot
				if err := cli().do("GET", "/registry", nil, &s); err != nil {
					return err
				}
				return show(s)
			},
		},
		&cobra.Command{
			Use:   "changes",
			Short: "Show the history of registry changes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var changes []model.RegistryChange
				if err := cli().do("GET", "/registry/changes", nil, &changes); err != nil {
					return err
				}
				return printJSON(changes)
			},
		},
		&cobra.Command{
			Use:   "set-fee <fraction>",
			Short: "Set the protocol fee, e.g. 0.001",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				fee, err := fraction(args[0])
				if err != nil {
					return err
				}
				var s registry.Snapshot
				if err := cli().do("PUT", "/registry/fee", api.FeeRequest{Fee: fee}, &s); err != nil {
					return err
				}
				return show(s)
			},
		},
		&cobra.Command{
			Use:   "set-collector <address>",
			Short: "Set where protocol fees are paid",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var s registry.Snapshot
				if err := cli().do("PUT", "/registry/collector", api.AddressRequest{Address: args[0]}, &s); err != nil {
					return err
				}
				return show(s)
			},
		},
		&cobra.Command{
			Use:   "exempt <token>",
			Short: "Exempt a base token from the protocol fee",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var s registry.Snapshot
				if err := cli().do("POST", "/registry/exempt/"+args[0], nil, &s); err != nil {
					return err
				}
				return show(s)
			},
		},
		&cobra.Command{
			Use:   "unexempt <token>",
			Short: "Charge the protocol fee on a base token again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var s registry.Snapshot
				if err := cli().do("DELETE", "/registry/exempt/"+args[0], nil, &s); err != nil {
					return err
				}
				return show(s)
			},
		},
	)
	return cmd
}
