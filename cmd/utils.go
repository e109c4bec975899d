package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/crytic/vyperlens/cache"
	"github.com/crytic/vyperlens/compilation"
	"github.com/crytic/vyperlens/compilation/vvm"
	"github.com/crytic/vyperlens/config"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/project"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// addProjectFlags adds the flags shared by every command operating on a project
func addProjectFlags(cmd *cobra.Command) {
	// Project root
	cmd.Flags().String("project", "", "path to the project root (default is the working directory)")

	// Config file
	cmd.Flags().String("config", "",
		fmt.Sprintf("path to config file (default is %s in the project root)", DefaultProjectConfigFilename))

	// Logging
	cmd.Flags().String("log-level", "", "minimum level of logs to emit (trace, debug, info, warn, error)")
	cmd.Flags().Bool("no-color", false, "disable colored output")
}

// addCompileSettingsFlags adds the flags overriding the compiler settings of the project configuration
func addCompileSettingsFlags(cmd *cobra.Command) {
	cmd.Flags().String("vyper-version", "", "compile every source with a version matching this constraint")
	cmd.Flags().String("evm-version", "", "target this hardfork instead of the configured one")
	cmd.Flags().Bool("enable-decimals", false, "enable the decimal type on releases gating it behind a setting")
}

// compileSettingsFromFlags returns the overrides given with the compile settings flags, or nil if none were used.
func compileSettingsFromFlags(cmd *cobra.Command) (*compilation.CompileSettings, error) {
	var err error
	settings := &compilation.CompileSettings{}
	used := false

	if cmd.Flags().Changed("vyper-version") {
		used = true
		if settings.Version, err = cmd.Flags().GetString("vyper-version"); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("evm-version") {
		used = true
		if settings.EVMVersion, err = cmd.Flags().GetString("evm-version"); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("enable-decimals") {
		used = true
		enableDecimals, err := cmd.Flags().GetBool("enable-decimals")
		if err != nil {
			return nil, err
		}
		settings.EnableDecimals = &enableDecimals
	}

	if !used {
		return nil, nil
	}
	return settings, nil
}

// loadProject finds the project root and reads its configuration, then sets up logging:
// #1: If --config was used, that file must exist and is read.
// #2: Otherwise the default config file in the project root is read when it exists.
// #3: Otherwise the default project configuration is used.
// The returned closer releases the log file, if any.
func loadProject(cmd *cobra.Command) (*project.Project, io.Closer, error) {
	root, err := cmd.Flags().GetString("project")
	if err != nil {
		return nil, nil, err
	}
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return nil, nil, errors.WithStack(err)
		}
	}

	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	if !configFlagUsed {
		configPath = filepath.Join(root, DefaultProjectConfigFilename)
	}

	var projectConfig *config.ProjectConfig
	_, existenceError := os.Stat(configPath)
	switch {
	case existenceError == nil:
		if projectConfig, err = config.ReadProjectConfigFromFile(configPath); err != nil {
			return nil, nil, err
		}
	case configFlagUsed:
		return nil, nil, errors.Wrapf(existenceError, "unable to find the config file at %v", configPath)
	default:
		projectConfig = config.GetDefaultProjectConfig()
	}

	if err = updateProjectConfigWithLoggingFlags(cmd.Flags(), projectConfig); err != nil {
		return nil, nil, err
	}
	if err = projectConfig.Validate(); err != nil {
		return nil, nil, err
	}

	closer, err := setupLogging(projectConfig.Logging)
	if err != nil {
		return nil, nil, err
	}
	if existenceError == nil {
		cmdLogger.Debug("Read the configuration file at: ", colors.Bold, configPath, colors.Reset)
	} else {
		cmdLogger.Debug("Unable to find the config file at ", configPath, ", using the default project configuration")
	}

	p, err := project.Load(root, projectConfig)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return p, closer, nil
}

// updateProjectConfigWithLoggingFlags will update the given projectConfig with the logging flags that were provided
func updateProjectConfigWithLoggingFlags(flags *pflag.FlagSet, projectConfig *config.ProjectConfig) error {
	if flags.Changed("log-level") {
		value, err := flags.GetString("log-level")
		if err != nil {
			return err
		}
		level, err := zerolog.ParseLevel(value)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", value)
		}
		projectConfig.Logging.Level = level
	}

	if flags.Changed("no-color") {
		noColor, err := flags.GetBool("no-color")
		if err != nil {
			return err
		}
		projectConfig.Logging.NoColor = noColor
	}
	return nil
}

// cacheDirectory returns the configured cache directory of the project, or the per-user default.
func cacheDirectory(p *project.Project) string {
	directory := p.Config().CacheDirectory
	if directory == "" {
		return cache.DefaultDirectory()
	}
	if !filepath.IsAbs(directory) {
		directory = filepath.Join(p.Path(), directory)
	}
	return directory
}

// newCompiler creates a compiler for the project. Release listings, and builds when useBuildCache is set, are cached
// in the cache directory. A cache that cannot be opened is skipped with a warning. The returned function closes the
// caches.
func newCompiler(p *project.Project, useBuildCache bool) (*compilation.VyperCompiler, func(), error) {
	directory := cacheDirectory(p)
	var closers []io.Closer

	listingCache, err := vvm.OpenListingCache(directory)
	if err != nil {
		cmdLogger.Warn("Release listings will not be cached", err)
		listingCache = nil
	} else {
		closers = append(closers, listingCache)
	}

	options := compilation.CompilerOptions{Registry: vvm.NewRegistry("", listingCache)}
	if useBuildCache {
		if options.BuildCache, err = compilation.OpenBuildCache(directory); err != nil {
			cmdLogger.Warn("Builds will not be cached", err)
			options.BuildCache = nil
		} else {
			closers = append(closers, options.BuildCache)
		}
	}

	closeAll := func() {
		for _, closer := range closers {
			if err := closer.Close(); err != nil {
				cmdLogger.Warn("Failed to close cache", err)
			}
		}
	}

	compiler, err := compilation.NewVyperCompiler(p, options)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return compiler, closeAll, nil
}

// cmdValidFlagArgs returns the flags of the command that have not been used yet, for dynamic completion
func cmdValidFlagArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	// Gather a list of flags that are available to be used in the current command but have not been used yet
	var unusedFlags []string
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			unusedFlags = append(unusedFlags, "--"+flag.Name)
		}
	})
	return unusedFlags, cobra.ShellCompDirectiveNoFileComp
}

// cmdValidSourceArgs completes source file arguments
func cmdValidSourceArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"vy", "vyi"}, cobra.ShellCompDirectiveFilterFileExt
}
