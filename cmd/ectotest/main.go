/*
Ectotest builds a change-set from a field descriptor file and a set of JSON
parameters, reports the outcome, and optionally commits the result to a
SQLite database.

Usage:

	ectotest [flags]

The descriptor file declares the record's field types, including relations;
the params file holds the raw external input to cast over the record. If the
change-set comes out valid, the applied record is printed as JSON; otherwise
the recorded errors are printed as a tree, one list of messages per field.

The flags are:

	-c, --config PATH
		Load settings from the given configuration file, in JSON or YAML
		format. Flags given on the command line win over the file.
	-s, --schema PATH
		Use the given field descriptor file instead of './schema.yml'. The
		file must be in JSON or YAML format.
	-d, --data PATH
		Load the existing record's field values from the given JSON file.
		When omitted, the change-set is built over an empty record.
	-p, --params PATH
		Load the incoming parameters from the given JSON file.
	--source NAME
		The table the record belongs to.
	--required FIELDS
		Comma-separated fields that must be present and non-empty.
	--db PATH
		Commit the change-set to the SQLite database at the given path.
	--insert
		Insert a new row instead of updating the existing one.
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/WernerBuchert/ecto/changeset"
	"github.com/WernerBuchert/ecto/config"
	"github.com/WernerBuchert/ecto/logging"
	"github.com/WernerBuchert/ecto/repo/sqlite"
	"github.com/WernerBuchert/ecto/schema"
	"github.com/spf13/pflag"
)

const (
	exitSuccess = 0
	exitError   = 1
	exitPanic   = 2
	exitInvalid = 4
)

var exitCode int

var (
	flagConfig   = pflag.StringP("config", "c", "", "Path to configuration file")
	flagSchema   = pflag.StringP("schema", "s", "schema.yml", "Path to field descriptor file")
	flagData     = pflag.StringP("data", "d", "", "Path to JSON file holding the existing record")
	flagParams   = pflag.StringP("params", "p", "", "Path to JSON file holding the incoming params")
	flagSource   = pflag.String("source", "records", "Table the record belongs to")
	flagRequired = pflag.StringSlice("required", nil, "Fields that must be present and non-empty")
	flagDB       = pflag.String("db", "", "SQLite database file to commit to")
	flagInsert   = pflag.Bool("insert", false, "Insert a new row instead of updating")
)

// loadConfig resolves the effective configuration: the config file when one
// was given, with explicitly set flags winning over it.
func loadConfig() (config.Config, error) {
	cfg := config.Config{
		Schema:   *flagSchema,
		Source:   *flagSource,
		Required: *flagRequired,
		DB:       *flagDB,
		Log:      config.Log{Enabled: true, Provider: logging.Jellog},
	}

	if *flagConfig != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			return cfg, err
		}
		loaded.Log.Enabled = true
		if pflag.CommandLine.Changed("schema") {
			loaded.Schema = *flagSchema
		}
		if pflag.CommandLine.Changed("source") {
			loaded.Source = *flagSource
		}
		if pflag.CommandLine.Changed("required") {
			loaded.Required = *flagRequired
		}
		if pflag.CommandLine.Changed("db") {
			loaded.DB = *flagDB
		}
		cfg = loaded
	}

	cfg = cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			fmt.Fprintf(os.Stderr, "fatal panic: %v\n", panicErr)
			exitCode = exitPanic
		}
		os.Exit(exitCode)
	}()

	pflag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	logger, err := cfg.Log.Create()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	logger.Infof("Loading descriptor file %s...", cfg.Schema)
	types, err := schema.LoadTypes(cfg.Schema)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	rec := changeset.NewRecord(cfg.Source, types)
	if *flagData != "" {
		fields, err := loadJSONMap(*flagData)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
			exitCode = exitError
			return
		}
		rec = rec.WithFields(fields)
		rec.Persisted = !*flagInsert
	}

	params := changeset.Params{}
	if *flagParams != "" {
		params, err = loadJSONMap(*flagParams)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
			exitCode = exitError
			return
		}
	}

	cs, err := buildChangeset(rec, params, cfg.Required)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	if !cs.Valid {
		logger.Warn("Change-set has errors")
		printJSON(cs.TraverseErrors(nil))
		exitCode = exitInvalid
		return
	}

	if cfg.DB != "" {
		cs, err = commit(context.Background(), cfg.DB, cs, logger)
		if err != nil {
			if !cs.Valid {
				printJSON(cs.TraverseErrors(nil))
				exitCode = exitInvalid
				return
			}
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
			exitCode = exitError
			return
		}
		logger.Info("Committed")
		printJSON(cs.Data.Fields)
		return
	}

	printJSON(cs.ApplyChanges().Fields)
}

// buildChangeset casts the scalar fields, then each relation, then runs the
// requested validations.
func buildChangeset(rec changeset.Record, params changeset.Params, required []string) (changeset.Changeset, error) {
	var scalars []string
	for name, t := range rec.Types {
		if !t.IsRelation() {
			scalars = append(scalars, name)
		}
	}

	cs, err := changeset.Cast(rec, params, scalars)
	if err != nil {
		return cs, err
	}

	for name, t := range rec.Types {
		switch t.Kind() {
		case schema.Assoc:
			cs, err = cs.CastAssoc(name)
		case schema.Embed:
			cs, err = cs.CastEmbed(name)
		default:
			continue
		}
		if err != nil {
			return cs, err
		}
	}

	if len(required) > 0 {
		cs = cs.ValidateRequired(required)
	}
	return cs, nil
}

func commit(ctx context.Context, dbFile string, cs changeset.Changeset, logger logging.Logger) (changeset.Changeset, error) {
	store, err := sqlite.New(dbFile, logger)
	if err != nil {
		return cs, err
	}
	defer store.Close()

	if err := store.InitTable(ctx, cs.Data); err != nil {
		return cs, err
	}

	if *flagInsert {
		return store.Insert(ctx, cs)
	}
	return store.Update(ctx, cs)
}

func loadJSONMap(file string) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", file, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%q: %w", file, err)
	}
	return m, nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}
	fmt.Println(string(b))
}
