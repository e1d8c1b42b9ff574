package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"farehop/internal/app"
	"farehop/internal/assist"
	"farehop/internal/db"
	"farehop/internal/domain"
	"farehop/internal/engine"
	"farehop/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fh",
	Short: "Farehop CLI",
	Long: `Farehop is an offline-first transit companion: report incidents, buy and
validate bus tickets, and keep everything consistent with the remote store.
Writes made while offline land in a durable pending queue and are replayed,
oldest first, the moment connectivity returns. 'fh net' toggles the simulated
connectivity state; 'fh sync now' forces a drain.`,
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
	viper.SetEnvPrefix("FAREHOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(netCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(vehicleCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Incident reports",
		Long:  "Reports flag traffic, breakdowns or overcrowding at a location. Offline submissions queue locally and sync later; 'fh report list' shows pending ones first with is_synced=false.",
	}
	rep.AddCommand(reportSubmitCmd())
	rep.AddCommand(reportListCmd())
	return rep
}

func reportSubmitCmd() *cobra.Command {
	var opts engine.ReportOptions
	var typ string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Type = domain.ReportType(typ)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.SubmitReport(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "report type (Traffic, Breakdown, Overcrowded, Other)")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.VehicleID, "vehicle", "", "vehicle id")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func reportListCmd() *cobra.Command {
	var vehicleID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, pending first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var reports []domain.Report
				var err error
				if vehicleID != "" {
					reports, err = a.Engine.ListVehicleReports(ctx, vehicleID)
				} else {
					reports, err = a.Engine.ListReports(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Location", "Vehicle", "Synced", "Created"})
				for _, r := range reports {
					vehicle := ""
					if r.VehicleID != nil {
						vehicle = *r.VehicleID
					}
					tw.AppendRow(table.Row{r.ID, r.Type, r.Location, vehicle, r.Synced, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "only reports for this vehicle")
	return cmd
}

func ticketCmd() *cobra.Command {
	tk := &cobra.Command{
		Use:   "ticket",
		Short: "Tickets",
		Long:  "Buy tickets (online only), validate them on board (works offline, queues the confirmation), and list or clear your ticket history.",
	}
	tk.AddCommand(ticketBuyCmd())
	tk.AddCommand(ticketValidateCmd())
	tk.AddCommand(ticketListCmd())
	tk.AddCommand(ticketClearCmd())
	return tk
}

func ticketBuyCmd() *cobra.Command {
	var opts engine.TicketOptions
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy a ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.BuyTicket(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.RouteID, "route", "", "route id")
	cmd.Flags().StringVar(&opts.FromStop, "from", "", "boarding stop")
	cmd.Flags().StringVar(&opts.ToStop, "to", "", "destination stop")
	cmd.Flags().IntVar(&opts.Passengers, "passengers", 1, "passenger count")
	_ = cmd.MarkFlagRequired("route")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func ticketValidateCmd() *cobra.Command {
	var vehicle string
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Validate a ticket on board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.ValidateTicket(ctx, args[0], vehicle)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&vehicle, "vehicle", "", "vehicle the ticket is validated on")
	_ = cmd.MarkFlagRequired("vehicle")
	return cmd
}

func ticketListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tickets, err := a.Engine.ListTickets(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tickets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Route", "From", "To", "Pax", "Fare", "Status", "Valid Until", "Synced"})
				for _, t := range tickets {
					tw.AppendRow(table.Row{t.ID, t.RouteName, t.FromStop, t.ToStop, t.PassengerCount, t.TotalFare, t.Status, t.ValidUntil, t.Synced})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func ticketClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-history",
		Short: "Drop validated tickets from local storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.ClearTicketHistory(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"removed": n})
				}
				fmt.Printf("removed %d validated ticket(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func syncCmd() *cobra.Command {
	sc := &cobra.Command{
		Use:   "sync",
		Short: "Pending queue and synchronization",
	}
	sc.AddCommand(syncNowCmd())
	sc.AddCommand(syncStatusCmd())
	return sc
}

func syncNowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "now",
		Short: "Drain the pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !a.Net.Online() {
					return fmt.Errorf("offline; bring the link up first (fh net online)")
				}
				synced, err := a.Syncer.Drain(ctx)
				if err != nil {
					return err
				}
				pending, err := a.Engine.Repo.QueueLen(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"synced": synced, "pending": pending})
				}
				fmt.Printf("synced %d, %d still pending\n", synced, pending)
				return nil
			})
		},
	}
	return cmd
}

func syncStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending queue contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.Repo.PendingEntries(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"online":  a.Net.Online(),
						"pending": entries,
					})
				}
				fmt.Printf("online: %v, pending: %d\n", a.Net.Online(), len(entries))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Temp ID", "Kind", "Attempts", "Enqueued"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.TempID, e.Kind, e.Attempts, e.EnqueuedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func netCmd() *cobra.Command {
	nc := &cobra.Command{
		Use:   "net",
		Short: "Connectivity state",
		Long:  "The connectivity monitor is edge triggered: flipping to online kicks off a drain of the pending queue, flipping again without a change does nothing.",
	}
	nc.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if viper.GetBool("json") {
					return printJSON(map[string]any{"online": a.Net.Online()})
				}
				if a.Net.Online() {
					fmt.Println("online")
				} else {
					fmt.Println("offline")
				}
				return nil
			})
		},
	})
	nc.AddCommand(&cobra.Command{
		Use:   "online",
		Short: "Mark the link online (drains pending writes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Net.Set(true); err != nil {
					return err
				}
				pending, err := a.Engine.Repo.QueueLen(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"online": true, "pending": pending})
				}
				fmt.Printf("online, %d pending\n", pending)
				return nil
			})
		},
	})
	nc.AddCommand(&cobra.Command{
		Use:   "offline",
		Short: "Mark the link offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Net.Set(false); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"online": false})
				}
				fmt.Println("offline")
				return nil
			})
		},
	})
	return nc
}

func routeCmd() *cobra.Command {
	rc := &cobra.Command{Use: "route", Short: "Route reference data"}
	rc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				routes, err := a.Engine.Repo.ListRoutes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(routes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "From", "To", "Stops", "ETA (min)"})
				for _, r := range routes {
					tw.AppendRow(table.Row{r.ID, r.Name, r.From, r.To, len(r.Stops), r.AverageETAMinutes})
				}
				tw.Render()
				return nil
			})
		},
	})
	return rc
}

func vehicleCmd() *cobra.Command {
	vc := &cobra.Command{Use: "vehicle", Short: "Vehicle reference data"}
	vc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				vehicles, err := a.Engine.Repo.ListVehicles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vehicles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Route", "Type", "Status", "Location", "Driver"})
				for _, v := range vehicles {
					tw.AppendRow(table.Row{v.ID, v.RouteID, v.Type, v.Status, v.Location, v.DriverName})
				}
				tw.Render()
				return nil
			})
		},
	})
	return vc
}

func refreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh routes, vehicles and tickets from the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.RefreshReference(ctx); err != nil {
					return err
				}
				if err := a.Engine.RefreshTickets(ctx); err != nil {
					return err
				}
				fmt.Println("refreshed")
				return nil
			})
		},
	}
	return cmd
}

func profileCmd() *cobra.Command {
	pc := &cobra.Command{Use: "profile", Short: "Commuter profile"}
	pc.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Profile(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	pc.AddCommand(profileUpdateCmd())
	return pc
}

func profileUpdateCmd() *cobra.Command {
	var p domain.Profile
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				current, err := a.Engine.Profile(ctx)
				if err == nil {
					if !cmd.Flags().Changed("name") {
						p.Name = current.Name
					}
					if !cmd.Flags().Changed("email") {
						p.Email = current.Email
					}
					if !cmd.Flags().Changed("phone") {
						p.Phone = current.Phone
					}
					if !cmd.Flags().Changed("home") {
						p.HomeAddress = current.HomeAddress
					}
					if !cmd.Flags().Changed("work") {
						p.WorkAddress = current.WorkAddress
					}
				}
				if err := a.Engine.UpdateProfile(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&p.Name, "name", "", "display name")
	cmd.Flags().StringVar(&p.Email, "email", "", "email")
	cmd.Flags().StringVar(&p.Phone, "phone", "", "phone")
	cmd.Flags().StringVar(&p.HomeAddress, "home", "", "home address")
	cmd.Flags().StringVar(&p.WorkAddress, "work", "", "work address")
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Ask the travel assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				client := assist.New(a.Config.Assist.Endpoint, a.Config.Assist.APIKey, a.Config.Assist.Model)
				reply, err := client.Ask(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	lc.AddCommand(logTailCmd())
	return lc
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.TailEvents(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stopWatch := a.Engine.WatchVehicles(ctx)
				defer stopWatch()
				authCfg := server.AuthConfig{JWTSecret: a.Config.Server.JWTSecret}
				if secret := os.Getenv("FAREHOP_JWT_SECRET"); secret != "" {
					authCfg.JWTSecret = secret
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Syncer:   a.Syncer,
					Net:      a.Net,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Farehop API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Bootstrap(ctx, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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
