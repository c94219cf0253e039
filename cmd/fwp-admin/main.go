package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/R005ter/fwp/database"
	"github.com/R005ter/fwp/internal/blob"
	"github.com/R005ter/fwp/internal/credential"
	"github.com/R005ter/fwp/internal/registry"
)

func main() {
	app := &cli.App{
		Name:  "fwp-admin",
		Usage: "operations tooling for the acquisition service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Value:   "fwp.sqlite3",
				Usage:   "sqlite database `PATH`",
				EnvVars: []string{"FWP_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "videos-dir",
				Value:   "videos",
				Usage:   "local `DIR` downloaded videos land in",
				EnvVars: []string{"FWP_VIDEOS_DIR"},
			},
			&cli.StringFlag{Name: "r2-account-id", EnvVars: []string{"R2_ACCOUNT_ID"}},
			&cli.StringFlag{Name: "r2-access-key-id", EnvVars: []string{"R2_ACCESS_KEY_ID"}},
			&cli.StringFlag{Name: "r2-secret-access-key", EnvVars: []string{"R2_SECRET_ACCESS_KEY"}},
			&cli.StringFlag{Name: "r2-bucket", Value: "fwp-videos", EnvVars: []string{"R2_BUCKET_NAME"}},
			&cli.StringFlag{Name: "r2-endpoint", EnvVars: []string{"R2_ENDPOINT_URL"}},
		},
		Commands: []*cli.Command{
			{
				Name:   "gc",
				Usage:  "delete unreferenced assets and purge their bytes",
				Action: runGC,
			},
			{
				Name:      "add-tenant",
				Usage:     "create a tenant",
				ArgsUsage: "NAME",
				Action:    runAddTenant,
			},
			{
				Name:      "set-cookies",
				Usage:     "store a Netscape cookie jar for a tenant",
				ArgsUsage: "TENANT_NAME JAR_FILE",
				Action:    runSetCookies,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openDatabase(c *cli.Context) (*database.Database, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	db, err := database.NewDatabase(c.String("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func runGC(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	media, err := blob.NewLocalStore(c.String("videos-dir"))
	if err != nil {
		return err
	}
	var remote blob.Store
	r2 := blob.R2Config{
		AccountID:       c.String("r2-account-id"),
		AccessKeyID:     c.String("r2-access-key-id"),
		SecretAccessKey: c.String("r2-secret-access-key"),
		Bucket:          c.String("r2-bucket"),
		EndpointURL:     c.String("r2-endpoint"),
	}
	if r2.Enabled() {
		if remote, err = blob.NewR2Store(r2); err != nil {
			return err
		}
	}

	reg := registry.New(db, media, remote)
	swept, err := reg.Sweep()
	if err != nil {
		return err
	}
	reg.Purge(context.Background(), swept)

	if len(swept) == 0 {
		fmt.Println("nothing to collect")
		return nil
	}
	for _, key := range swept {
		fmt.Println(key)
	}
	fmt.Printf("reclaimed %d asset(s)\n", len(swept))
	return nil
}

func runAddTenant(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("tenant name required")
	}
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	tenant := &database.Tenant{Name: name}
	if err := db.InsertTenant(tenant); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	fmt.Printf("created tenant %q with id %d\n", tenant.Name, tenant.ID)
	return nil
}

func runSetCookies(c *cli.Context) error {
	name, jarPath := c.Args().Get(0), c.Args().Get(1)
	if name == "" || jarPath == "" {
		return fmt.Errorf("usage: set-cookies TENANT_NAME JAR_FILE")
	}
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	tenant, err := db.GetTenantByName(name)
	if err != nil {
		return err
	}
	if tenant == nil {
		return fmt.Errorf("unknown tenant %q", name)
	}

	data, err := os.ReadFile(jarPath)
	if err != nil {
		return err
	}
	creds, err := credential.NewStore(db, "")
	if err != nil {
		return err
	}
	if err := creds.Set(tenant.ID, data); err != nil {
		return fmt.Errorf("failed to store cookies: %w", err)
	}
	fmt.Printf("stored %d bytes of cookies for %q\n", len(data), name)
	return nil
}
