package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/hackgods/facility-booking/internal/appointment"
	"github.com/hackgods/facility-booking/internal/config"
	"github.com/hackgods/facility-booking/internal/db"
	"github.com/hackgods/facility-booking/internal/facility"
	"github.com/hackgods/facility-booking/internal/logging"
	"github.com/hackgods/facility-booking/internal/schedule"
	"github.com/hackgods/facility-booking/internal/validate"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "bookingctl",
		Short:        "Administer the facility booking service",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(migrateCmd(), facilitiesCmd(), slotsCmd(), validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func connect(ctx context.Context) (config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "bookingctl", MaxConns: 2})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Printf("Applied %d migration(s)\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})
	return cmd
}

func facilitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facilities",
		Short: "List or import facilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered facilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			list, err := facility.NewPgRepository(pool).List(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-36s  %-30s %-20s %s\n", "ID", "NAME", "TYPE", "SLOT")
			for _, f := range list {
				fmt.Printf("%-36s  %-30s %-20s %dm\n", f.ID, f.Name, f.Type, f.SlotMinutes)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yml>",
		Short: "Validate a facilities file and upsert its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := facility.LoadFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := facility.NewPgRepository(pool)
			for _, f := range list {
				if err := repo.Upsert(ctx, f); err != nil {
					return err
				}
			}
			fmt.Printf("Imported %d facilities\n", len(list))
			return nil
		},
	})
	return cmd
}

func slotsCmd() *cobra.Command {
	var facilityID, date string

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the free slots of a facility on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := schedule.ParseDate(date)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := appointment.NewService(
				appointment.NewPgStore(pool),
				facility.NewPgRepository(pool),
				cfg.Booking,
				appointment.WithLogger(logging.New(cfg.Env, "bookingctl")),
			)
			slots, err := svc.AvailableSlots(ctx, facilityID, d)
			if err != nil {
				return err
			}
			for _, s := range slots {
				fmt.Printf("%s - %s\n", s.Start.Format(time.RFC3339), s.End.Format("15:04"))
			}
			fmt.Printf("%d free slot(s)\n", len(slots))
			return nil
		},
	}
	cmd.Flags().StringVar(&facilityID, "facility", "", "Facility ID")
	cmd.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "Local date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("facility")
	return cmd
}

var validators = map[string]func(string) validate.Result{
	"patient-identifier": validate.PatientIdentifier,
	"postcode":           validate.Postcode,
	"phone":              validate.PhoneNumber,
	"email":              validate.Email,
}

func validateCmd() *cobra.Command {
	kinds := make([]string, 0, len(validators))
	for k := range validators {
		kinds = append(kinds, k)
	}

	return &cobra.Command{
		Use:       "validate <kind> <value>",
		Short:     "Check an identifier or contact field",
		Long:      "Kinds: " + strings.Join(kinds, ", "),
		Args:      cobra.ExactArgs(2),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			check, ok := validators[args[0]]
			if !ok {
				return fmt.Errorf("unknown kind %q", args[0])
			}
			res := check(args[1])
			if !res.Valid {
				return fmt.Errorf("invalid: %s", res.Reason)
			}
			fmt.Println("valid")
			return nil
		},
	}
}
