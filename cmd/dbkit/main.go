package main

import (
	"cmp"
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"dbkit/internal/db"
	_ "dbkit/internal/db/dialects"
	"dbkit/internal/logger"
	"dbkit/internal/schema"
	"dbkit/pkg/config"
	"dbkit/pkg/orm"
)

func main() {
	// flags
	cfgPath := flag.String("config", filepath.Join(".", "configs", "example.yaml"), "path to config YAML")
	envPath := flag.String("env", ".env", "path to .env file with DBKIT_* overrides")
	driverFlag := flag.String("driver", "", "db driver override (postgres,mysql,sqlite)")
	dsnFlag := flag.String("dsn", "", "dsn override")
	timeout := flag.Int("timeout", 10, "db connect timeout seconds")
	logLevel := flag.String("log", "", "log level (debug,info,warn,error)")

	table := flag.String("table", "", "table to query")
	where := flag.String("where", "", "raw condition; a ? is replaced by -value")
	order := flag.String("order", "", "ORDER BY clause")
	limit := flag.Int("limit", 0, "maximum number of rows")
	count := flag.Bool("count", false, "print the number of matching rows instead of the rows")
	showSchema := flag.Bool("schema", false, "print the schema of -table")
	call := flag.String("call", "", "by-property call such as selectByStatus, selectByEmailFirst or countByStatus")
	value := flag.String("value", "", "value for -call or the placeholder of -where")
	reset := flag.Bool("reset", false, "clear the schema cache, including the schema file")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		logger.Error("error reading env file: %v", err)
	}

	// attempt to load config file (optional)
	var appCfg config.AppConfig
	if cfgPath != nil {
		logger.Debug("config file %s", *cfgPath)
		if c, err := config.LoadFile(*cfgPath); err == nil {
			appCfg = c
		} else if !os.IsNotExist(err) {
			logger.Error("error reading config file: %v", err)
		}
	}
	if err := config.ApplyEnv(&appCfg); err != nil {
		logger.Fatal("invalid environment: %v", err)
	}

	level, err := logger.ParseLevel(cmp.Or(*logLevel, appCfg.Log.Level))
	if err != nil {
		logger.Warn("%v", err)
	}
	logger.SetLevel(level)

	// allow CLI overrides
	var driver, dsn string
	if *driverFlag != "" && *dsnFlag != "" {
		driver, dsn, err = config.BuildDriverAndDSN(config.DBConfig{Type: *driverFlag, DSN: *dsnFlag})
		if err != nil {
			logger.Fatal("error building DSN: %v", err)
		}
	} else if appCfg.Database.Type != "" {
		driver, dsn, err = config.BuildDriverAndDSN(appCfg.Database)
		if err != nil {
			logger.Fatal("error building DSN: %v", err)
		}
	} else {
		logger.Fatal("no database configured; use -driver and -dsn or a config file (registered dialects: %v)", db.RegisteredDialects())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, err := db.Open(driver, dsn, *timeout)
	if err != nil {
		logger.Fatal("connection failed: %v", err)
	}
	defer conn.Close()

	var envOpts []orm.EnvOption
	if appCfg.Cache.SchemaFile != "" {
		envOpts = append(envOpts, orm.WithSchemaStore(schema.NewFileStore(appCfg.Cache.SchemaFile)))
	}
	if appCfg.Locking.Enabled {
		envOpts = append(envOpts, orm.WithOptimisticLocking(appCfg.Locking.Properties...))
	}
	env := orm.NewEnv(conn, envOpts...)

	if *reset {
		if err := env.ClearAll(); err != nil {
			logger.Fatal("reset failed: %v", err)
		}
		logger.Info("schema cache cleared")
		if *table == "" {
			return
		}
	}
	if *table == "" {
		logger.Fatal("-table is required")
	}

	c := env.Container(*table)
	opts := orm.Options{Order: *order, Limit: *limit}
	if *where != "" {
		var values []interface{}
		if strings.Contains(*where, "?") {
			values = append(values, *value)
		}
		opts.Conditions = append(opts.Conditions, orm.Cond(*where, values...))
	}

	var out interface{}
	switch {
	case *showSchema:
		out, err = c.Schema(ctx)
	case *call != "":
		var res orm.DispatchResult
		res, err = c.Call(ctx, *call, *value, opts)
		out = dispatchOutput(res, *call)
	case *count:
		out, err = c.Count(ctx, opts)
	default:
		out, err = c.Select(ctx, opts)
	}
	if err != nil {
		logger.Fatal("%v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal("%v", err)
	}
}

// dispatchOutput picks the field of res that the call filled in.
func dispatchOutput(res orm.DispatchResult, name string) interface{} {
	crit, err := orm.ParseCriterion(name)
	if err != nil {
		return nil
	}
	switch crit.Op {
	case orm.OpSelect:
		return res.Records
	case orm.OpSelectFirst:
		return res.Record
	case orm.OpDelete:
		return res.Affected
	}
	return res.Count
}
