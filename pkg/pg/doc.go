// Package pg wires the metering service to PostgreSQL: a pgx/v5 connection
// pool configured from environment variables, startup retries, a health-check
// probe, goose schema migrations, and the error helpers the storage layer
// uses to translate driver errors into domain sentinels.
//
// Typical bootstrap:
//
//	var cfg pg.Config
//	if err := env.Parse(&cfg); err != nil {
//	    return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//	    return err
//	}
package pg
