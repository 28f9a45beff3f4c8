package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gasline/internal/app"
	"gasline/internal/config"
	"gasline/internal/db"
	"gasline/internal/domain"
	"gasline/internal/engine"
	"gasline/internal/ledger"
	"gasline/internal/migrate"
	"gasline/internal/repo"
	"gasline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gasline CLI",
	Long: `Gasline runs an LPG depot: orders, delivery runs, refill batches, and a
cylinder movement ledger that stock levels are projected from.
- Workspace: your .gasline directory with only the database; depot configs are
  stored in the DB and imported explicitly.
- Depot: owns all stock, orders, runs, and counts.
- Ledger: every cylinder movement is an append-only entry; stock is a fold over
  the ledger, never edited directly.
- Orders: created -> scheduled -> prepared -> loading -> dispatched -> in_transit
  -> arrived -> delivered/partial_delivery/failed -> closed.
- Runs: a vehicle+driver route of stops; starting a run dispatches its orders.
- Batches: empty cylinders move through inspection, filling, and QC before the
  passed count lands back in full stock.
- Counts: a daily physical count is reconciled against the ledger projection;
  variances need supervisor approval before stock is adjusted.
- Checklists: safety gates on vehicles and drivers that block dispatch until a
  passing response exists inside the window.
- Event log: diary of changes, view with 'gl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GASLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("depot", "", "depot id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("depot", rootCmd.PersistentFlags().Lookup("depot"))
}

func registerCommands() {
	rootCmd.AddCommand(depotCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(movementCmd())
	rootCmd.AddCommand(countCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(fleetCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func depotCmd() *cobra.Command {
	depot := &cobra.Command{Use: "depot", Short: "Manage depots"}
	depot.AddCommand(depotListCmd())
	depot.AddCommand(depotCreateCmd())
	depot.AddCommand(depotShowCmd())
	depot.AddCommand(depotUseCmd())
	depot.AddCommand(depotConfigCmd())
	return depot
}

func depotListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List depots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDepots(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func depotCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create depot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn)
			d, err := e.InitDepot(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(d)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "depot id")
	cmd.Flags().StringVar(&name, "name", "", "depot name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func depotShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active depot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				d, err := e.Repo.GetDepot(ctx, depotID)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func depotUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current depot for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			depotID := strings.TrimSpace(args[0])
			if depotID == "" {
				return fmt.Errorf("depot id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "GASLINE_DEPOT", depotID); err != nil {
				return err
			}
			fmt.Printf("Set GASLINE_DEPOT=%s in %s/.env\n", depotID, workspace)
			return nil
		},
	}
	return cmd
}

func depotConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage depot config",
	}
	cfg.AddCommand(depotConfigShowCmd())
	cfg.AddCommand(depotConfigImportCmd())
	return cfg
}

func depotConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show depot config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, cfg *config.Config) error {
				return printJSONOrTable(cfg)
			})
		},
	}
	return cmd
}

func depotConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import depot config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				target := cfg.Depot.ID
				if target == "" {
					target = depotID
				}
				if err := e.ImportDepotConfig(ctx, target, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show depot status",
		Long:  "See the scoreboard for your depot: stock levels by bucket and order counts by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				d, err := e.Repo.GetDepot(ctx, depotID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountOrdersByStatus(ctx, depotID)
				if err != nil {
					return err
				}
				stock, err := e.GetStock(ctx, depotID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"depot_id":     d.ID,
						"status":       d.Status,
						"order_counts": counts,
						"stock":        stock,
					})
				}
				fmt.Printf("Depot: %s (%s)\n", d.ID, d.Status)
				fmt.Println("Orders:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Stock:")
				for _, size := range domain.CylinderSizes {
					for _, st := range domain.StockStatuses {
						if qty := stock[ledger.StockKey{Size: size, Status: st}]; qty != 0 {
							fmt.Printf("  %s %s: %d\n", size, st, qty)
						}
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func quoteCmd() *cobra.Command {
	quote := &cobra.Command{
		Use:   "quote",
		Short: "Manage quotes",
		Long:  "Quotes go draft -> sent -> accepted, then convert into an order. Unconverted quotes expire after the configured number of days.",
	}
	quote.AddCommand(quoteCreateCmd())
	quote.AddCommand(quoteListCmd())
	quote.AddCommand(quoteGetCmd())
	quote.AddCommand(quoteTransitionCmd("send", domain.QuoteSent, "Send quote to customer"))
	quote.AddCommand(quoteTransitionCmd("accept", domain.QuoteAccepted, "Mark quote accepted"))
	quote.AddCommand(quoteTransitionCmd("reject", domain.QuoteRejected, "Mark quote rejected"))
	quote.AddCommand(quoteConvertCmd())
	quote.AddCommand(quoteExpireCmd())
	return quote
}

func quoteCreateCmd() *cobra.Command {
	var customerID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			if customerID == "" {
				return fmt.Errorf("--customer required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				q, err := e.CreateQuote(ctx, depotID, customerID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func quoteListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				items, err := e.Repo.ListQuotes(ctx, depotID, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Customer", "Status", "Expires"})
				for _, q := range items {
					expires := ""
					if q.ExpiresAt != nil {
						expires = *q.ExpiresAt
					}
					tw.AppendRow(table.Row{q.ID, q.CustomerID, q.Status, expires})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func quoteGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				q, err := e.Repo.GetQuote(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	return cmd
}

func quoteTransitionCmd(use string, to domain.QuoteStatus, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				q, err := e.TransitionQuote(ctx, args[0], to, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
}

func quoteConvertCmd() *cobra.Command {
	var siteID string
	var items []string
	var priority int
	cmd := &cobra.Command{
		Use:   "convert <id>",
		Short: "Convert accepted quote into an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseOrderItems(items)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				o, err := e.ConvertQuote(ctx, args[0], siteID, lines, priority, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "delivery site id")
	cmd.Flags().StringArrayVar(&items, "item", []string{}, "order item as product:size:qty (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower is higher)")
	return cmd
}

func quoteExpireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue quotes for the depot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				n, err := e.ExpireQuotes(ctx, depotID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"expired": n})
			})
		},
	}
	return cmd
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Manage orders",
		Long:  "Orders carry cylinder line items through preparation, loading, dispatch, and delivery. Dispatch moves stock full -> issued on the ledger; closing returns any undelivered cylinders to full stock.",
	}
	order.AddCommand(orderCreateCmd())
	order.AddCommand(orderListCmd())
	order.AddCommand(orderGetCmd())
	order.AddCommand(orderScheduleCmd())
	order.AddCommand(orderTransitionCmd())
	order.AddCommand(orderDispatchCmd())
	order.AddCommand(orderDeliverCmd())
	order.AddCommand(orderCloseCmd())
	order.AddCommand(orderCancelCmd())
	return order
}

func orderCreateCmd() *cobra.Command {
	var customerID, siteID string
	var items []string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseOrderItems(items)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				o, err := e.CreateOrder(ctx, engine.OrderCreateOptions{
					DepotID:    depotID,
					CustomerID: customerID,
					SiteID:     siteID,
					Priority:   priority,
					Items:      lines,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&siteID, "site", "", "delivery site id")
	cmd.Flags().StringArrayVar(&items, "item", []string{}, "order item as product:size:qty (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower is higher)")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func orderListCmd() *cobra.Command {
	var status, customerID, runID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				items, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
					DepotID:    depotID,
					Status:     status,
					CustomerID: customerID,
					RunID:      runID,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Customer", "Status", "Driver", "Run"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.CustomerID, o.Status, o.DriverID, o.ScheduleRunID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&customerID, "customer", "", "customer filter")
	cmd.Flags().StringVar(&runID, "run", "", "run filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func orderGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				o, err := e.Repo.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orderScheduleCmd() *cobra.Command {
	var driverID, vehicleID string
	cmd := &cobra.Command{
		Use:   "schedule <id>",
		Short: "Schedule order with driver and vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				o, err := e.ScheduleOrder(ctx, args[0], driverID, vehicleID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&driverID, "driver", "", "driver id")
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "vehicle id")
	_ = cmd.MarkFlagRequired("driver")
	_ = cmd.MarkFlagRequired("vehicle")
	return cmd
}

func orderTransitionCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Move order to a new status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				o, err := e.TransitionOrder(ctx, args[0], domain.OrderStatus(to), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func orderDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <id>",
		Short: "Dispatch a loaded order (checklist gate applies)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				o, err := e.DispatchOrder(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orderDeliverCmd() *cobra.Command {
	var lines []string
	cmd := &cobra.Command{
		Use:   "deliver <id>",
		Short: "Record delivery outcome for an arrived order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dl, err := parseDeliveryLines(lines)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				o, err := e.CompleteDelivery(ctx, args[0], dl, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringArrayVar(&lines, "line", []string{}, "delivery line as product:delivered:empties (repeatable)")
	return cmd
}

func orderCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close order and return undelivered stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				o, err := e.CloseOrder(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orderCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel order (any state before a delivery outcome)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				o, err := e.CancelOrder(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Manage delivery runs",
		Long:  "Runs bundle dispatched orders into a vehicle route of sequenced stops. Starting a run moves every stop's order to in_transit; the run completes itself when the last stop finishes.",
	}
	run.AddCommand(runCreateCmd())
	run.AddCommand(runListCmd())
	run.AddCommand(runGetCmd())
	run.AddCommand(runAddStopCmd())
	run.AddCommand(runSimpleCmd("ready", "Mark run ready (validates stop sequence)", func(e engine.Engine) func(context.Context, string, string) (domain.ScheduleRun, error) {
		return e.ReadyRun
	}))
	run.AddCommand(runCompleteLoadingCmd())
	run.AddCommand(runSimpleCmd("start", "Start run (checklist gate applies)", func(e engine.Engine) func(context.Context, string, string) (domain.ScheduleRun, error) {
		return e.StartRun
	}))
	run.AddCommand(runSimpleCmd("cancel", "Cancel run and unassign its orders", func(e engine.Engine) func(context.Context, string, string) (domain.ScheduleRun, error) {
		return e.CancelRun
	}))
	run.AddCommand(stopCmd())
	return run
}

func runCreateCmd() *cobra.Command {
	var vehicleID, driverID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a delivery run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				run, err := e.CreateRun(ctx, depotID, vehicleID, driverID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "vehicle id")
	cmd.Flags().StringVar(&driverID, "driver", "", "driver id")
	_ = cmd.MarkFlagRequired("vehicle")
	_ = cmd.MarkFlagRequired("driver")
	return cmd
}

func runListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				items, err := e.Repo.ListRuns(ctx, depotID, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Vehicle", "Driver", "Status", "Stops"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.VehicleID, r.DriverID, r.Status, len(r.Stops)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func runGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get run with stops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				run, err := e.Repo.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	return cmd
}

func runAddStopCmd() *cobra.Command {
	var orderID, eta string
	var sequence int
	cmd := &cobra.Command{
		Use:   "add-stop <run-id>",
		Short: "Add an order stop to a planned run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				stop, err := e.AddStop(ctx, args[0], orderID, sequence, eta, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(stop)
			})
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "order id")
	cmd.Flags().IntVar(&sequence, "sequence", 0, "stop sequence (1-based)")
	cmd.Flags().StringVar(&eta, "eta", "", "estimated arrival (RFC3339)")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("sequence")
	return cmd
}

func runSimpleCmd(use, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.ScheduleRun, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				run, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
}

func runCompleteLoadingCmd() *cobra.Command {
	var loaded []string
	cmd := &cobra.Command{
		Use:   "complete-loading <id>",
		Short: "Load and dispatch every order on a ready run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantities, err := parseLoadedQuantities(loaded)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				run, err := e.CompleteLoading(ctx, args[0], quantities, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().StringSliceVar(&loaded, "loaded", nil, "loaded quantity as size:qty (repeatable); must match ordered totals")
	return cmd
}

func stopCmd() *cobra.Command {
	stop := &cobra.Command{Use: "stop", Short: "Manage run stops"}
	stop.AddCommand(stopSimpleCmd("arrive", "Record arrival at stop", func(e engine.Engine) func(context.Context, string, string) (domain.ScheduleStop, error) {
		return e.ArriveStop
	}))
	stop.AddCommand(stopCompleteCmd())
	stop.AddCommand(stopSimpleCmd("fail", "Fail stop (no cylinders delivered)", func(e engine.Engine) func(context.Context, string, string) (domain.ScheduleStop, error) {
		return e.FailStop
	}))
	stop.AddCommand(stopSimpleCmd("skip", "Skip a pending stop", func(e engine.Engine) func(context.Context, string, string) (domain.ScheduleStop, error) {
		return e.SkipStop
	}))
	return stop
}

func stopSimpleCmd(use, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.ScheduleStop, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				stop, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(stop)
			})
		},
	}
}

func stopCompleteCmd() *cobra.Command {
	var lines []string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete stop with delivery lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dl, err := parseDeliveryLines(lines)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				stop, err := e.CompleteStop(ctx, args[0], dl, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(stop)
			})
		},
	}
	cmd.Flags().StringArrayVar(&lines, "line", []string{}, "delivery line as product:delivered:empties (repeatable)")
	return cmd
}

func batchCmd() *cobra.Command {
	batch := &cobra.Command{
		Use:   "batch",
		Short: "Manage refill batches",
		Long:  "Refill batches take empty cylinders through inspection, filling, and QC. Stocking a passed batch appends a filled movement that lands the QC-passed count in full stock.",
	}
	batch.AddCommand(batchCreateCmd())
	batch.AddCommand(batchListCmd())
	batch.AddCommand(batchGetCmd())
	batch.AddCommand(batchSimpleCmd("inspect", "Start inspection", func(e engine.Engine) func(context.Context, string, string) (domain.RefillBatch, error) {
		return e.StartInspection
	}))
	batch.AddCommand(batchInspectionCmd())
	batch.AddCommand(batchFillingCmd())
	batch.AddCommand(batchQCCmd())
	batch.AddCommand(batchFailCmd())
	batch.AddCommand(batchSimpleCmd("stock", "Stock a passed batch", func(e engine.Engine) func(context.Context, string, string) (domain.RefillBatch, error) {
		return e.StockBatch
	}))
	return batch
}

func batchCreateCmd() *cobra.Command {
	var size string
	var planned int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a refill batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				b, err := e.CreateBatch(ctx, depotID, domain.CylinderSize(size), planned, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&size, "size", "", "cylinder size (9kg, 14kg, 19kg, 48kg)")
	cmd.Flags().IntVar(&planned, "planned", 0, "planned cylinder count")
	_ = cmd.MarkFlagRequired("size")
	_ = cmd.MarkFlagRequired("planned")
	return cmd
}

func batchListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List refill batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				items, err := e.Repo.ListBatches(ctx, depotID, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Size", "Status", "Planned", "QC Passed"})
				for _, b := range items {
					qc := ""
					if b.QCPassedCount != nil {
						qc = strconv.Itoa(*b.QCPassedCount)
					}
					tw.AppendRow(table.Row{b.ID, b.CylinderSize, b.Status, b.PlannedCount, qc})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func batchGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get refill batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				b, err := e.Repo.GetBatch(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func batchSimpleCmd(use, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.RefillBatch, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				b, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func batchInspectionCmd() *cobra.Command {
	var inspected, passed int
	cmd := &cobra.Command{
		Use:   "inspection <id>",
		Short: "Complete inspection with counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				b, err := e.CompleteInspection(ctx, args[0], inspected, passed, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().IntVar(&inspected, "inspected", 0, "cylinders inspected")
	cmd.Flags().IntVar(&passed, "passed", 0, "cylinders passing inspection")
	_ = cmd.MarkFlagRequired("inspected")
	_ = cmd.MarkFlagRequired("passed")
	return cmd
}

func batchFillingCmd() *cobra.Command {
	var filled int
	cmd := &cobra.Command{
		Use:   "filling <id>",
		Short: "Complete filling with count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				b, err := e.CompleteFilling(ctx, args[0], filled, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().IntVar(&filled, "filled", 0, "cylinders filled")
	_ = cmd.MarkFlagRequired("filled")
	return cmd
}

func batchQCCmd() *cobra.Command {
	var qcPassed int
	var reason string
	cmd := &cobra.Command{
		Use:   "qc <id>",
		Short: "Complete quality control with count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				b, err := e.CompleteQC(ctx, args[0], qcPassed, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().IntVar(&qcPassed, "passed", 0, "cylinders passing QC")
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason when zero pass")
	_ = cmd.MarkFlagRequired("passed")
	return cmd
}

func batchFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Fail batch with a reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				b, err := e.FailBatch(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func stockCmd() *cobra.Command {
	stock := &cobra.Command{Use: "stock", Short: "Inspect stock levels"}
	stock.AddCommand(stockShowCmd())
	stock.AddCommand(stockProjectCmd())
	stock.AddCommand(stockVerifyCmd())
	return stock
}

func stockShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current stock levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				proj, err := e.GetStock(ctx, depotID)
				if err != nil {
					return err
				}
				return printStock(proj)
			})
		},
	}
	return cmd
}

func stockProjectCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project stock from the ledger, optionally as of a timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				proj, err := e.ProjectStock(ctx, depotID, asOf)
				if err != nil {
					return err
				}
				return printStock(proj)
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "RFC3339 cutoff (defaults to now)")
	return cmd
}

func stockVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify stock levels against a full ledger fold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				diff, err := e.VerifyStock(ctx, depotID)
				if err != nil {
					return err
				}
				if len(diff) == 0 {
					fmt.Println("stock levels consistent with ledger")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Size", "Status", "Levels", "Ledger"})
				for key, pair := range diff {
					tw.AppendRow(table.Row{key.Size, key.Status, pair[0], pair[1]})
				}
				tw.Render()
				return fmt.Errorf("stock levels diverge from ledger in %d bucket(s)", len(diff))
			})
		},
	}
	return cmd
}

func movementCmd() *cobra.Command {
	movement := &cobra.Command{
		Use:   "movement",
		Short: "Record and list ledger movements",
	}
	movement.AddCommand(movementRecordCmd())
	movement.AddCommand(movementListCmd())
	return movement
}

func movementRecordCmd() *cobra.Command {
	var size, mtype, prev, next, orderID, notes string
	var qty int
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append a manual cylinder movement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				m := buildMovement(depotID, size, mtype, prev, next, orderID, notes, viper.GetString("actor-id"), qty)
				out, err := e.AppendMovement(ctx, m)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&size, "size", "", "cylinder size")
	cmd.Flags().StringVar(&mtype, "type", "", "movement type")
	cmd.Flags().IntVar(&qty, "qty", 0, "quantity")
	cmd.Flags().StringVar(&prev, "from", "", "previous stock status (for adjustments)")
	cmd.Flags().StringVar(&next, "to", "", "new stock status (for adjustments)")
	cmd.Flags().StringVar(&orderID, "order", "", "related order id")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("size")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func movementListCmd() *cobra.Command {
	var f repo.MovementFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger movements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				f.DepotID = depotID
				items, err := e.Repo.ListMovements(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Size", "Qty", "From", "To", "Order"})
				for _, m := range items {
					from, to := "", ""
					if m.PreviousStatus != nil {
						from = string(*m.PreviousStatus)
					}
					if m.NewStatus != nil {
						to = string(*m.NewStatus)
					}
					tw.AppendRow(table.Row{m.CreatedAt, m.MovementType, m.CylinderSize, m.Quantity, from, to, m.RelatedOrderID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CylinderSize, "size", "", "size filter")
	cmd.Flags().StringVar(&f.MovementType, "type", "", "movement type filter")
	cmd.Flags().StringVar(&f.OrderID, "order", "", "order filter")
	cmd.Flags().StringVar(&f.BatchID, "batch", "", "batch filter")
	cmd.Flags().StringVar(&f.Since, "since", "", "RFC3339 lower bound")
	cmd.Flags().StringVar(&f.Until, "until", "", "RFC3339 upper bound")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func countCmd() *cobra.Command {
	count := &cobra.Command{
		Use:   "count",
		Short: "Daily stock counts",
		Long:  "Submit the physical count for a date; clean counts finalize immediately, any variance parks the count in pending_review until a supervisor approves or rejects it.",
	}
	count.AddCommand(countSubmitCmd())
	count.AddCommand(countListCmd())
	count.AddCommand(countGetCmd())
	count.AddCommand(countDecisionCmd("approve", "Approve variance and adjust stock", func(e engine.Engine) func(context.Context, string, string) (domain.DailyCount, error) {
		return e.ApproveCount
	}))
	count.AddCommand(countDecisionCmd("reject", "Reject variance without adjusting stock", func(e engine.Engine) func(context.Context, string, string) (domain.DailyCount, error) {
		return e.RejectCount
	}))
	return count
}

func countSubmitCmd() *cobra.Command {
	var date string
	var lines []string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit daily physical count",
		RunE: func(cmd *cobra.Command, args []string) error {
			pcs, err := parseCountLines(lines)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				dc, err := e.SubmitDailyCount(ctx, depotID, date, pcs, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(dc)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "count date (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&lines, "line", []string{}, "count line as size:status:qty (repeatable)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func countListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List daily counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				items, err := e.Repo.ListDailyCounts(ctx, depotID, status, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func countGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get daily count with variance lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				dc, err := e.Repo.GetDailyCount(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(dc)
			})
		},
	}
	return cmd
}

func countDecisionCmd(use, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.DailyCount, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				dc, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(dc)
			})
		},
	}
}

func checklistCmd() *cobra.Command {
	checklist := &cobra.Command{
		Use:   "checklist",
		Short: "Safety checklists",
		Long:  "Checklists run against vehicles and drivers. A blocking template with a failed critical item blocks dispatch until a fresh passing response exists.",
	}
	checklist.AddCommand(checklistStartCmd())
	checklist.AddCommand(checklistCompleteCmd())
	checklist.AddCommand(checklistCancelCmd())
	checklist.AddCommand(checklistListCmd())
	return checklist
}

func checklistStartCmd() *cobra.Command {
	var templateID, entityType, entityID string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a checklist response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				resp, err := e.StartChecklist(ctx, depotID, templateID, entityType, entityID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "checklist template id")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type (vehicle, driver, order)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func checklistCompleteCmd() *cobra.Command {
	var answers []string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a checklist response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				resp, err := e.CompleteChecklist(ctx, args[0], parsed, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", []string{}, "answer as item:pass|fail[:note] (repeatable)")
	return cmd
}

func checklistCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an in-progress checklist response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string, _ *config.Config) error {
				resp, err := e.CancelChecklist(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	return cmd
}

func checklistListCmd() *cobra.Command {
	var entityType, entityID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checklist responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				items, err := e.Repo.ListChecklistResponses(ctx, depotID, entityType, entityID, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func fleetCmd() *cobra.Command {
	fleet := &cobra.Command{Use: "fleet", Short: "Manage drivers and vehicles"}
	fleet.AddCommand(fleetDriverCmd())
	fleet.AddCommand(fleetVehicleCmd())
	return fleet
}

func fleetDriverCmd() *cobra.Command {
	driver := &cobra.Command{Use: "driver", Short: "Manage drivers"}

	var id, name, license, status string
	upsert := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				d, err := e.UpsertDriver(ctx, domain.Driver{
					ID:        id,
					DepotID:   depotID,
					Name:      name,
					LicenseNo: license,
					Status:    status,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	upsert.Flags().StringVar(&id, "id", "", "driver id (generated if omitted)")
	upsert.Flags().StringVar(&name, "name", "", "driver name")
	upsert.Flags().StringVar(&license, "license", "", "license number")
	upsert.Flags().StringVar(&status, "status", "", "status (active, suspended)")
	_ = upsert.MarkFlagRequired("name")
	driver.AddCommand(upsert)

	driver.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				items, err := e.Repo.ListDrivers(ctx, depotID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return driver
}

func fleetVehicleCmd() *cobra.Command {
	vehicle := &cobra.Command{Use: "vehicle", Short: "Manage vehicles"}

	var id, registration, status string
	var capacity int
	upsert := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a vehicle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				v, err := e.UpsertVehicle(ctx, domain.Vehicle{
					ID:           id,
					DepotID:      depotID,
					Registration: registration,
					CapacityKg:   capacity,
					Status:       status,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	upsert.Flags().StringVar(&id, "id", "", "vehicle id (generated if omitted)")
	upsert.Flags().StringVar(&registration, "registration", "", "number plate")
	upsert.Flags().IntVar(&capacity, "capacity-kg", 0, "payload capacity in kg")
	upsert.Flags().StringVar(&status, "status", "", "status (active, maintenance)")
	_ = upsert.MarkFlagRequired("registration")
	vehicle.AddCommand(upsert)

	vehicle.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				items, err := e.Repo.ListVehicles(ctx, depotID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return vehicle
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	apikey.AddCommand(apikeyCreateCmd())
	apikey.AddCommand(apikeyListCmd())
	apikey.AddCommand(apikeyDeleteCmd())
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "glk_" + hex.EncodeToString(raw)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":     key.ID,
					"actor":  key.ActorID,
					"secret": secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, depotID string, _ *config.Config) error {
				events, err := e.Repo.LatestEvents(ctx, n, depotID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveDepotAndConfig(cmd.Context(), viper.GetString("depot"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GASLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GASLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, DepotConfig: cfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gasline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string, *config.Config) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	depotID, cfg, err := app.ResolveDepotAndConfig(ctx, viper.GetString("depot"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn)
	return fn(ctx, e, depotID, cfg)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStock(proj ledger.Projection) error {
	if viper.GetBool("json") {
		return printJSON(proj)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Size", "Status", "Quantity"})
	for _, size := range domain.CylinderSizes {
		for _, status := range domain.StockStatuses {
			if qty, ok := proj[ledger.StockKey{Size: size, Status: status}]; ok {
				tw.AppendRow(table.Row{size, status, qty})
			}
		}
	}
	tw.Render()
	return nil
}

// parseOrderItems parses repeated product:size:qty flags.
func parseOrderItems(items []string) ([]domain.OrderItem, error) {
	out := make([]domain.OrderItem, 0, len(items))
	for _, raw := range items {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid item %q, want product:size:qty", raw)
		}
		qty, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in item %q", raw)
		}
		out = append(out, domain.OrderItem{
			ProductID:    parts[0],
			CylinderSize: domain.CylinderSize(parts[1]),
			Quantity:     qty,
		})
	}
	return out, nil
}

// parseDeliveryLines parses repeated product:delivered:empties flags.
func parseDeliveryLines(lines []string) ([]engine.DeliveryLine, error) {
	out := make([]engine.DeliveryLine, 0, len(lines))
	for _, raw := range lines {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid line %q, want product:delivered:empties", raw)
		}
		delivered, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid delivered count in line %q", raw)
		}
		empties, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid empties count in line %q", raw)
		}
		out = append(out, engine.DeliveryLine{
			ProductID:         parts[0],
			DeliveredQuantity: delivered,
			EmptiesCollected:  empties,
		})
	}
	return out, nil
}

// buildMovement assembles a manual ledger entry from the record flags.
// Optional fields stay nil rather than empty so the ledger sees the same
// shapes the HTTP DTO layer produces.
func buildMovement(depotID, size, mtype, prev, next, orderID, notes, actorID string, qty int) domain.CylinderMovement {
	m := domain.CylinderMovement{
		DepotID:      depotID,
		CylinderSize: domain.CylinderSize(size),
		MovementType: domain.MovementType(mtype),
		Quantity:     qty,
		ActorID:      actorID,
		Notes:        notes,
	}
	if orderID != "" {
		m.RelatedOrderID = &orderID
	}
	if prev != "" {
		s := domain.StockStatus(prev)
		m.PreviousStatus = &s
	}
	if next != "" {
		s := domain.StockStatus(next)
		m.NewStatus = &s
	}
	return m
}

// parseLoadedQuantities parses repeated size:qty flags into a per-size map.
func parseLoadedQuantities(entries []string) (map[domain.CylinderSize]int, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[domain.CylinderSize]int, len(entries))
	for _, raw := range entries {
		parts := strings.Split(raw, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid loaded quantity %q, want size:qty", raw)
		}
		qty, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in %q", raw)
		}
		out[domain.CylinderSize(parts[0])] = qty
	}
	return out, nil
}

// parseCountLines parses repeated size:status:qty flags.
func parseCountLines(lines []string) ([]engine.PhysicalCount, error) {
	out := make([]engine.PhysicalCount, 0, len(lines))
	for _, raw := range lines {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid line %q, want size:status:qty", raw)
		}
		qty, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in line %q", raw)
		}
		out = append(out, engine.PhysicalCount{
			CylinderSize: domain.CylinderSize(parts[0]),
			StockStatus:  domain.StockStatus(parts[1]),
			Quantity:     qty,
		})
	}
	return out, nil
}

// parseAnswers parses repeated item:pass|fail[:note] flags.
func parseAnswers(answers []string) ([]domain.ChecklistAnswer, error) {
	out := make([]domain.ChecklistAnswer, 0, len(answers))
	for _, raw := range answers {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid answer %q, want item:pass|fail[:note]", raw)
		}
		var passed bool
		switch parts[1] {
		case "pass":
			passed = true
		case "fail":
			passed = false
		default:
			return nil, fmt.Errorf("invalid verdict %q in answer %q", parts[1], raw)
		}
		a := domain.ChecklistAnswer{ItemID: parts[0], Passed: passed}
		if len(parts) == 3 {
			a.Note = parts[2]
		}
		out = append(out, a)
	}
	return out, nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
