package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vortexvm/mem/vm"
)

// The environment variables that override the default layout.
const (
	envMode              = "VMM_MODE"
	envGlobalMemSize     = "VMM_GLOBAL_MEM_SIZE"
	envPageTableBaseAddr = "VMM_PAGE_TABLE_BASE_ADDR"
	envPTSizeLimit       = "VMM_PT_SIZE_LIMIT"
	envAllocBaseAddr     = "VMM_ALLOC_BASE_ADDR"
	envUserBaseAddr      = "VMM_USER_BASE_ADDR"
	envStartupAddr       = "VMM_STARTUP_ADDR"
	envStartupSize       = "VMM_STARTUP_SIZE"
	envCacheBlockSize    = "VMM_CACHE_BLOCK_SIZE"
)

// loadEnvFile loads variables from an env file. A missing file is not an
// error. Variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// configFromEnv builds the configuration for a mode and applies the layout
// overrides from the environment. An empty mode falls back to VMM_MODE and
// then to sv39.
func configFromEnv(mode string) (vm.Config, error) {
	if mode == "" {
		mode = os.Getenv(envMode)
	}

	if mode == "" {
		mode = vm.ModeSv39.String()
	}

	m, err := vm.ParseMode(mode)
	if err != nil {
		return vm.Config{}, err
	}

	cfg := vm.ConfigForMode(m)

	overrides := []struct {
		name  string
		field *uint64
	}{
		{envGlobalMemSize, &cfg.GlobalMemSize},
		{envPageTableBaseAddr, &cfg.PageTableBaseAddr},
		{envPTSizeLimit, &cfg.PTSizeLimit},
		{envAllocBaseAddr, &cfg.AllocBaseAddr},
		{envUserBaseAddr, &cfg.UserBaseAddr},
		{envStartupAddr, &cfg.StartupAddr},
		{envStartupSize, &cfg.StartupSize},
		{envCacheBlockSize, &cfg.CacheBlockSize},
	}

	for _, o := range overrides {
		value, ok := os.LookupEnv(o.name)
		if !ok || value == "" {
			continue
		}

		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return vm.Config{}, fmt.Errorf("%s: invalid number %q", o.name, value)
		}

		*o.field = n
	}

	if err := cfg.Validate(); err != nil {
		return vm.Config{}, err
	}

	return cfg, nil
}

// configFromFlags loads the env file named by the flags and builds the
// configuration.
func configFromFlags(cmd *cobra.Command) (vm.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		return vm.Config{}, err
	}

	mode, _ := cmd.Flags().GetString("mode")

	return configFromEnv(mode)
}
