// Package main is the entry point for the Meridian admin CLI.
// It runs administrative identity commands through the same pipeline the
// server uses, so validation, auditing, and lockout rules all apply.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-identity/internal/challenge"
	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/config"
	"github.com/prn-tf/meridian-identity/internal/pkg/fido"
	"github.com/prn-tf/meridian-identity/internal/pkg/totp"
	"github.com/prn-tf/meridian-identity/internal/query"
	"github.com/prn-tf/meridian-identity/internal/repository"
	"github.com/prn-tf/meridian-identity/internal/repository/postgres"
	"github.com/prn-tf/meridian-identity/internal/repository/sqlite"
	"github.com/prn-tf/meridian-identity/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "version":
		fmt.Printf("Meridian Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "user":
		if err := runUser(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func runUser(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("user requires a subcommand: create, unlock")
	}

	switch args[0] {
	case "create":
		return runUserCreate(args[1:])
	case "unlock":
		return runUserUnlock(args[1:])
	default:
		return fmt.Errorf("unknown user subcommand: %s", args[0])
	}
}

func runUserCreate(args []string) error {
	fs := flag.NewFlagSet("user create", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	email := fs.String("email", "", "email address (required)")
	firstName := fs.String("first-name", "", "first name (required)")
	lastName := fs.String("last-name", "", "last name (required)")
	password := fs.String("password", "", "initial password (empty issues a confirmation token)")
	admin := fs.Bool("admin", false, "grant administrative privileges")
	lockable := fs.Bool("lockable", true, "apply lockout after repeated failed logins")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withPipeline(*configPath, func(ctx context.Context, d *command.Dispatcher) error {
		result := d.Send(ctx, service.CreateUser{
			EmailAddress: *email,
			FirstName:    *firstName,
			LastName:     *lastName,
			Password:     *password,
			IsLockable:   *lockable,
			IsAdmin:      *admin,
		})
		return printResult(result)
	})
}

func runUserUnlock(args []string) error {
	fs := flag.NewFlagSet("user unlock", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	id := fs.String("id", "", "user ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*id)
	if err != nil {
		return fmt.Errorf("invalid user ID: %w", err)
	}

	return withPipeline(*configPath, func(ctx context.Context, d *command.Dispatcher) error {
		return printResult(d.Send(ctx, service.UnlockAccount{UserID: userID}))
	})
}

// withPipeline wires the dispatcher against the configured database and
// hands it to fn. Commands run with the local operator as actor.
func withPipeline(configPath string, fn func(ctx context.Context, d *command.Dispatcher) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	var (
		factory repository.UnitOfWorkFactory
		queries query.UserQueries
		closeDB func() error
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		factory = postgres.NewFactory(db, nil, logger)
		queries = postgres.NewUserQueries(db)
		closeDB = db.Close
	case "sqlite":
		db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(cfg.Database.Path), logger)
		if err != nil {
			return fmt.Errorf("opening sqlite database: %w", err)
		}
		factory = sqlite.NewFactory(db, nil, logger)
		queries = sqlite.NewUserQueries(db)
		closeDB = db.Close
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
	defer closeDB()

	generator := totp.NewGenerator(totp.Config{Issuer: cfg.Identity.TOTPIssuer})
	rp := fido.RelyingParty{
		ID:     cfg.Identity.RelyingPartyID,
		Name:   cfg.Identity.RelyingPartyName,
		Origin: cfg.Identity.RelyingPartyOrigin,
	}
	policy := service.Policy{
		LockoutThreshold:            cfg.Identity.LockoutThreshold,
		PasswordResetTokenTTL:       cfg.Identity.PasswordResetTokenTTL,
		AccountConfirmationTokenTTL: cfg.Identity.AccountConfirmationTokenTTL,
		ChallengeTTL:                cfg.Identity.ChallengeTTL,
	}

	handlers := service.NewHandlers(
		factory, queries, challenge.NewMemoryStore(), generator, rp, nil, nil, policy, logger)
	dispatcher := command.NewDispatcher(logger, nil)
	service.Register(dispatcher, handlers)

	return fn(command.WithActor(ctx, "meridian-admin"), dispatcher)
}

func printResult(result command.Result) error {
	if result.Succeeded() {
		if payload := result.Payload(); payload != nil {
			out, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		} else {
			fmt.Println("OK")
		}
		return nil
	}

	errData := result.Error()
	if fields := result.FieldErrors(); len(fields) > 0 {
		fmt.Fprintln(os.Stderr, "Validation failed:")
		for _, fieldError := range fields {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", fieldError.Field, fieldError.Code)
		}
		return fmt.Errorf("command rejected")
	}
	return fmt.Errorf("%s: %s", errData.Code, errData.Message)
}

func printUsage() {
	fmt.Println(`Meridian Admin CLI

Usage:
  meridian-admin <command> [arguments]

Commands:
  user create   Create a user (bootstrap the first administrator)
  user unlock   Clear a lockout on a user account
  version       Print version information
  help          Show this help message

Configuration is read from config.yaml and MERIDIAN_* environment
variables, the same way the server reads it.

Examples:
  meridian-admin user create -email admin@example.com -first-name Ada -last-name Admin -password 'S3cret!pass' -admin
  meridian-admin user unlock -id 6f1c1530-6f8a-4d9e-9a54-0e6a9c2a7b11`)
}
