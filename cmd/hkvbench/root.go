package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/IvanBrykalov/hkvtable/config"
)

// Version is the CLI version.
const Version = "0.3.0"

var (
	v        = viper.New()
	logger   = zerolog.Nop()
	tableCfg = config.Default()

	rootCmd = &cobra.Command{
		Use:   "hkvbench",
		Short: "benchmark and inspect hkv tables",
		Long: fmt.Sprintf(`hkvbench (v%s)

Runs workloads against a sharded, reference-counted hkv table.
Table settings come from --config (JSONC), then HKV_<FLAG> environment
variables (also read from .env and .env.local), then flags.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hkvbench",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hkvbench v%s\n", Version)
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "JSONC file with the table configuration")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	def := config.Default()
	pf.String(config.KeyName, def.Name, "table name")
	pf.Int(config.KeyObjectSize, def.ObjectSize, "payload size of every entry in bytes")
	pf.Int32(config.KeyObjectsLimit, def.ObjectsLimit, "maximum live entries (0 = unbounded)")
	pf.Uint32(config.KeySharedCount, def.SharedCount, "number of shards (0 = auto)")
	pf.String(config.KeyKeyType, string(def.KeyType), "key type: string, int32, int64, uint64, bytes12, bytes64, bytes68")
	pf.String(config.KeyPolicy, def.Policy, "eviction policy: idle | busy")
	pf.Bool(config.KeyHeap, def.Heap, "keep payloads on the Go heap instead of mmap")

	rootCmd.AddCommand(benchCmd, shellCmd, versionCmd)
}

// setup loads env files, binds flags and env to viper, builds the logger
// and resolves the table configuration.
func setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	config.BindEnv(v, "hkv")
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	lvl, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().Timestamp().
		Logger()

	base := config.Default()
	if path := v.GetString("config"); path != "" {
		if base, err = config.Load(path); err != nil {
			return err
		}
	}
	// Only flags given on the command line (or HKV_* variables) override
	// the file; unchanged flags carry the same values as config.Default.
	tableCfg = config.Merge(base, v)
	if err := tableCfg.Validate(); err != nil {
		return err
	}

	logger.Debug().Interface("table", tableCfg).Msg("configuration resolved")
	return nil
}
