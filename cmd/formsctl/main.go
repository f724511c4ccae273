package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"forms-api/internal/config"
	"forms-api/internal/database"
	"forms-api/internal/models"
	"forms-api/internal/services"
	"forms-api/pkg/logging"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "formsctl",
		Short:        "formsctl - administer forms-api users, keys and forms",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(formCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withDB loads the server configuration, opens the database and runs fn
func withDB(fn func(ctx context.Context, cfg *config.Config, db *gorm.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.InitLogging("warn", cfg.LogFormat)

	db, err := database.InitDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fn(ctx, cfg, db)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage form owners",
	}

	upsert := &cobra.Command{
		Use:   "upsert [id]",
		Short: "Create or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			planName, _ := cmd.Flags().GetString("plan")
			plan, err := models.ParsePlan(planName)
			if err != nil {
				return err
			}
			return withDB(func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				user, err := services.NewUserService(db).Upsert(ctx, args[0], email, name, plan)
				if err != nil {
					return err
				}
				return printJSON(user)
			})
		},
	}
	upsert.Flags().StringP("email", "e", "", "Email address")
	upsert.Flags().StringP("name", "n", "", "Display name")
	upsert.Flags().StringP("plan", "p", string(models.PlanFree), "Plan (FREE, STANDARD, PRO)")

	setPlan := &cobra.Command{
		Use:   "set-plan [id] [plan]",
		Short: "Change a user's plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := models.ParsePlan(args[1])
			if err != nil {
				return err
			}
			return withDB(func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				if err := services.NewUserService(db).SetPlan(ctx, args[0], plan); err != nil {
					return err
				}
				fmt.Printf("User %s is now on %s\n", args[0], plan)
				return nil
			})
		},
	}

	deleteUser := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a user with all forms, submissions and keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				if err := services.NewUserService(db).Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("User %s deleted\n", args[0])
				return nil
			})
		},
	}

	usage := &cobra.Command{
		Use:   "usage [id]",
		Short: "Show a user's plan usage for the current month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				summary, err := services.NewQuotaService(db).Usage(ctx, args[0], time.Now())
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}

	cmd.AddCommand(upsert, setPlan, deleteUser, usage)
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	create := &cobra.Command{
		Use:   "create [user-id] [name]",
		Short: "Issue an API key; the secret is printed once",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
				key, secret, err := services.NewAPIKeyService(db, cfg.APIKeyHashCost).Generate(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("Key ID:  %s\n", key.ID)
				fmt.Printf("Prefix:  %s\n", key.KeyPrefix)
				fmt.Printf("Secret:  %s\n", secret)
				fmt.Println("Store the secret now; it cannot be shown again.")
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list [user-id]",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
				keys, err := services.NewAPIKeyService(db, cfg.APIKeyHashCost).List(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke [user-id] [key-id]",
		Short: "Deactivate an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
				if err := services.NewAPIKeyService(db, cfg.APIKeyHashCost).Revoke(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("Key %s revoked\n", args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}

func formCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "form",
		Short: "Manage forms",
	}

	create := &cobra.Command{
		Use:   "create [user-id] [name]",
		Short: "Create a form; the type is derived from the schema unless given",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			formType, _ := cmd.Flags().GetString("type")
			schemaFile, _ := cmd.Flags().GetString("schema")
			developerEmail, _ := cmd.Flags().GetString("developer-email")
			confirm, _ := cmd.Flags().GetBool("confirm")

			var schema string
			if schemaFile != "" {
				raw, err := os.ReadFile(schemaFile)
				if err != nil {
					return fmt.Errorf("failed to read schema: %w", err)
				}
				schema = string(raw)
			}

			settings := models.FormSettings{
				Email: models.EmailSettings{
					ConfirmationEnabled:          confirm,
					DeveloperNotificationEnabled: developerEmail != "",
					DeveloperEmail:               developerEmail,
				},
			}

			return withDB(func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				forms := services.NewFormService(db, services.NewQuotaService(db))
				form, err := forms.Create(ctx, args[0], services.CreateFormInput{
					Name:     args[1],
					FormType: formType,
					Schema:   schema,
					Settings: settings,
				})
				if err != nil {
					return err
				}
				return printJSON(form)
			})
		},
	}
	create.Flags().StringP("type", "t", "", "Form type (WAITLIST, FEEDBACK, CONTACT, CUSTOM)")
	create.Flags().StringP("schema", "s", "", "Path to the form schema file")
	create.Flags().String("developer-email", "", "Send developer notifications to this address")
	create.Flags().Bool("confirm", false, "Send confirmation emails to submitters")

	resolve := &cobra.Command{
		Use:   "resolve-type [schema-file]",
		Short: "Print the form type a schema resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Println(services.ResolveFormType(string(raw)))
			return nil
		},
	}

	cmd.AddCommand(create, resolve)
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, _ *gorm.DB) error {
				// InitDatabase migrates on open
				fmt.Println("Database schema is up to date")
				return nil
			})
		},
	}
}
