package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orbis-track/borrow-service/internal/api/dto"
	"github.com/orbis-track/borrow-service/internal/auth"
	"github.com/orbis-track/borrow-service/internal/config"
	"github.com/orbis-track/borrow-service/internal/directory"
	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/observability"
	"github.com/orbis-track/borrow-service/internal/persistence"
	"github.com/orbis-track/borrow-service/internal/repository"
	"github.com/orbis-track/borrow-service/internal/repository/memory"
	"github.com/orbis-track/borrow-service/internal/service"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "borrowctl",
	Short: "Operator tooling for the device borrow service",
	Long: `borrowctl inspects the same database and approval policy the API uses.
It reads configuration from the environment (and .env), like the server.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(chainCmd())
	rootCmd.AddCommand(availableCmd())
	rootCmd.AddCommand(tokenCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime is what every subcommand needs from the environment.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	pg        *persistence.Postgres
	store     repository.Store
	users     repository.UserRepository
	directory *directory.RepositoryDirectory
}

func withRuntime(ctx context.Context, fn func(rt *runtime) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(config.LoggerConfig{Level: "warn"})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	rt := &runtime{cfg: cfg, logger: logger, pg: pg}
	if pool := pg.PoolHandle(); pool != nil {
		rt.store = repository.NewPostgresStore(pool)
		rt.users = repository.NewUserRepository(pool)
	} else {
		mem := memory.NewStore()
		if cfg.Postgres.MemorySeedFile != "" {
			if err := mem.LoadSeedFile(cfg.Postgres.MemorySeedFile); err != nil {
				return err
			}
		}
		rt.store = mem
		rt.users = mem.Users()
	}
	rt.directory = directory.NewRepositoryDirectory(rt.users)
	return fn(rt)
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				if rt.pg.PoolHandle() == nil {
					return fmt.Errorf("POSTGRES_DSN is not set")
				}
				if dir == "" {
					dir = rt.cfg.Postgres.MigrationsDir
				}
				files, err := persistence.MigrationFiles(dir)
				if err != nil {
					return err
				}
				if err := persistence.RunMigrations(cmd.Context(), rt.pg.PoolHandle(), dir, rt.logger); err != nil {
					return err
				}
				return printOrTable(files, []any{"Applied"}, func(tw table.Writer) {
					for _, f := range files {
						tw.AppendRow(table.Row{f})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (default from POSTGRES_MIGRATIONS_DIR)")
	return cmd
}

func chainCmd() *cobra.Command {
	var policyFile string
	cmd := &cobra.Command{
		Use:   "chain <userId>",
		Short: "Show the approval chain a ticket by this user would get",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				if policyFile == "" {
					policyFile = rt.cfg.Approval.ChainFile
				}
				policy, err := config.LoadChainPolicy(policyFile)
				if err != nil {
					return err
				}
				scope, err := rt.directory.ResolveScope(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				resolver := service.NewChainResolver(policy, rt.directory)
				steps, err := resolver.ResolveChain(cmd.Context(), scope)
				if err != nil {
					return err
				}

				type row struct {
					Step       int                 `json:"step"`
					Role       domain.ApproverRole `json:"role"`
					Department string              `json:"department,omitempty"`
					Section    string              `json:"section,omitempty"`
					Candidates []string            `json:"candidates"`
				}
				rows := make([]row, 0, len(steps))
				for _, step := range steps {
					candidates, err := resolver.Candidates(cmd.Context(), step)
					if err != nil {
						return err
					}
					rows = append(rows, row{step.StepNumber, step.RequiredRole, step.Scope.DepartmentID, step.Scope.SectionID, candidates})
				}
				return printOrTable(rows, []any{"Step", "Role", "Department", "Section", "Candidates"}, func(tw table.Writer) {
					for _, r := range rows {
						tw.AppendRow(table.Row{r.Step, r.Role, r.Department, r.Section, strings.Join(r.Candidates, ", ")})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&policyFile, "policy", "", "chain policy YAML (default from APPROVAL_CHAIN_FILE)")
	return cmd
}

func availableCmd() *cobra.Command {
	var deviceID, start, end, exclude string
	cmd := &cobra.Command{
		Use:   "available",
		Short: "List units of a device that are free for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := dto.DateRangeRequest{Start: start, End: end}.Parse()
			if err != nil {
				return err
			}
			var excludes []string
			for _, id := range strings.Split(exclude, ",") {
				if id = strings.TrimSpace(id); id != "" {
					excludes = append(excludes, id)
				}
			}
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				children, err := service.NewAvailabilityChecker().FindAvailable(cmd.Context(), rt.store, service.AvailabilityQuery{
					DeviceID:        deviceID,
					DateRange:       rng,
					ExcludeChildIDs: excludes,
				})
				if err != nil {
					return err
				}
				return printOrTable(children, []any{"ID", "Asset Code", "Serial", "Status"}, func(tw table.Writer) {
					for _, child := range children {
						serial := ""
						if child.Serial != nil {
							serial = *child.Serial
						}
						tw.AppendRow(table.Row{child.ID, child.AssetCode, serial, child.CurrentStatus})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device id")
	cmd.Flags().StringVar(&start, "start", "", "range start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "range end, exclusive")
	cmd.Flags().StringVar(&exclude, "exclude", "", "comma separated unit ids to skip")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Issue a bearer token for a directory user (local and test environments)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				scope, err := rt.directory.ResolveScope(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				tokens := auth.NewTokenManager(rt.cfg.Auth.JWTSecret, rt.cfg.Auth.AccessTokenTTLMinutes)
				token, expiresAt, err := tokens.GenerateToken(scope.UserID, scope.Role)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]any{"token": token, "expiresAt": expiresAt, "role": scope.Role})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	return cmd
}

func printOrTable(v any, header []any, fill func(tw table.Writer)) error {
	if jsonOutput {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	fill(tw)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
