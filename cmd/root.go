package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"vtstate/internal/mm/mmcli"
	"vtstate/internal/orchestrator"
	"vtstate/internal/transfer"
	"vtstate/store"
	"vtstate/types"
	"vtstate/util"
	"vtstate/util/sigterm"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	paramsFile        string
	swarmPool         string
	sharedPool        string
	updatePoolTimeout int
	noLock            bool
	mmBaseDir         string
	storeEndpoint     string
	errFile           string
)

var rootCmd = &cobra.Command{
	Use:   "vtstate",
	Short: "A cli application for managing virtual testbed object state",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var (
			endpoint = viper.GetString("store.endpoint")
			logFile  = viper.GetString("log.error-file")
			logErr   = viper.GetBool("log.error-stderr")
		)

		if err := store.Init(store.Endpoint(endpoint)); err != nil {
			return fmt.Errorf("initializing storage: %w", err)
		}

		if err := util.InitFatalLogWriter(logFile, logErr); err != nil {
			return fmt.Errorf("unable to initialize fatal log writer: %w", err)
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		util.CloseLogWriter()
		viper.WriteConfigAs("/tmp/vtstate.yml")
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	SilenceUsage: true, // don't print help when subcommands return an error
}

// Execute runs the command tree under a context that's canceled on
// SIGTERM/SIGINT, so a get/set/push/pop in flight against a VM monitor
// socket or a pool transfer gets a chance to unwind via ctx rather than
// being killed mid-write.
func Execute() {
	ctx := sigterm.CancelContext(context.Background())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&paramsFile, "params", "", "path to a YAML parameter file (spec §3/§6)")
	rootCmd.PersistentFlags().StringVar(&swarmPool, "swarm-pool", "", "canonical per-host swarm pool path, merged into the parameter map as swarm_pool")
	rootCmd.PersistentFlags().StringVar(&sharedPool, "shared-pool", "", "canonical site-shared pool path, merged into the parameter map as shared_pool")
	rootCmd.PersistentFlags().IntVar(&updatePoolTimeout, "update-pool-timeout", 300, "lock acquire timeout in seconds for pool uploads/downloads")
	rootCmd.PersistentFlags().BoolVar(&noLock, "no-lock", false, "disable advisory pool locking entirely (read-only/read-mostly pools)")
	rootCmd.PersistentFlags().StringVar(&mmBaseDir, "mm-base-dir", "/tmp/minimega", "base directory holding per-VM monitor sockets")
	rootCmd.PersistentFlags().Bool("log.error-stderr", false, "log fatal errors to STDERR")

	uid, home := getCurrentUserInfo()

	if uid == "0" {
		os.MkdirAll("/etc/vtstate", 0755)
		os.MkdirAll("/var/log/vtstate", 0755)

		rootCmd.PersistentFlags().StringVar(&storeEndpoint, "store.endpoint", "bolt:///etc/vtstate/store.bdb", "endpoint for scenario storage")
		rootCmd.PersistentFlags().StringVar(&errFile, "log.error-file", "/var/log/vtstate/error.log", "log fatal errors to file")
	} else {
		rootCmd.PersistentFlags().StringVar(&storeEndpoint, "store.endpoint", fmt.Sprintf("bolt://%s/.vtstate.bdb", home), "endpoint for scenario storage")
		rootCmd.PersistentFlags().StringVar(&errFile, "log.error-file", fmt.Sprintf("%s/.vtstate.err", home), "log fatal errors to file")
	}

	viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetConfigName("config")

	viper.AddConfigPath(".")

	uid, home := getCurrentUserInfo()

	if uid != "0" {
		viper.AddConfigPath(home + "/.config/vtstate")
	}

	viper.AddConfigPath("/etc/vtstate")

	viper.SetEnvPrefix("VTSTATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func getCurrentUserInfo() (string, string) {
	u, err := user.Current()
	if err != nil {
		panic("unable to determine current user: " + err.Error())
	}

	var (
		uid  = u.Uid
		home = u.HomeDir
		sudo = os.Getenv("SUDO_USER")
	)

	if u.Uid == "0" && sudo != "" {
		u, err := user.Lookup(sudo)
		if err != nil {
			panic("unable to lookup sudo user: " + err.Error())
		}

		uid = u.Uid
		home = u.HomeDir
	}

	return uid, home
}

// buildParams loads --params (if given) and overlays the flag-derived
// values on top, per SPEC_FULL.md §0.3: the CLI is the only thing that
// ever merges flags into the parameter map, the orchestrator itself only
// ever sees the result.
func buildParams() (types.Params, error) {
	params := types.Params{}

	if paramsFile != "" {
		loaded, err := types.LoadParams(paramsFile)
		if err != nil {
			return nil, err
		}

		params = params.Merge(loaded)
	}

	flagParams := types.Params{}

	if swarmPool != "" {
		flagParams["swarm_pool"] = swarmPool
	}

	if sharedPool != "" {
		flagParams["shared_pool"] = sharedPool
	}

	flagParams["update_pool_timeout"] = fmt.Sprintf("%d", updatePoolTimeout)

	return params.Merge(flagParams), nil
}

// buildOrchestrator wires an Orchestrator from the merged parameter map
// and the process-wide CLI flags (mm socket base dir, transfer options,
// identity, scenario store) — the orchestrator's own Params argument to
// each call stays free of anything flag-derived that isn't also a
// parameter (spec §3).
func buildOrchestrator(params types.Params) *orchestrator.Orchestrator {
	identity := types.Identity{
		Gateway:    params.Get("nets_gateway", nil, ""),
		Host:       params.Get("nets_host", nil, ""),
		SwarmPath:  swarmPool,
		SharedPool: sharedPool,
	}

	opts := transfer.NewOptions(
		transfer.LockTimeout(updatePoolTimeout),
		transfer.SkipLocks(noLock),
		transfer.MemoizeCompare(true),
	)

	env := mmcli.NewClient(func(name string) string {
		return filepath.Join(mmBaseDir, name, "qmp")
	})

	return &orchestrator.Orchestrator{
		Env:                  env,
		Identity:             identity,
		TransferOptions:      opts,
		MaxConcurrentMirrors: 4,
		Scenarios:            store.DefaultStore,
	}
}
