package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dccert-manager/internal/config"
	"dccert-manager/internal/core"
	"dccert-manager/internal/interrupt"
	"dccert-manager/internal/logging"
)

const (
	envPrefix         = "DCCERT"
	defaultConfigFile = "dccert.yaml"

	flagComputerName           = "computer-name"
	flagLdapVipName            = "ldap-vip-name"
	flagTemplateName           = "certificate-template-name"
	flagExportRequestInf       = "export-request-inf"
	flagCompleteRequest        = "complete-request"
	flagLoadBalancing          = "load-balancing"
	flagSkipCertificateInstall = "skip-certificate-install"
	flagConfig                 = "config"
	flagLdapURL                = "ldap-url"
	flagOutputDir              = "output-dir"
	flagDevelopment            = "development"
)

// globalOptions 所有子命令共用的参数
type globalOptions struct {
	configPath   string
	ldapURL      string
	outputDir    string
	logVerbosity int
	development  bool
}

type runOptions struct {
	globalOptions
	computerNames []string
	params        core.Params
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	// automatically translate dashes in flags to underscores in environment vars
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCommand() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "dccert-manager",
		Short: "Request domain controller certificates from an enterprise CA",
		Long: `Builds a certificate request for each domain controller, optionally submits it to an
enterprise certificate authority discovered in the directory and installs the issued
certificate when the target is the local machine.`,
		Example: `  dccert-manager --ldap-vip-name ldap.corp.example.com
  dccert-manager --computer-name DC1,DC2 --ldap-vip-name ldap.corp.example.com --complete-request --load-balancing ADSite`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := readRunOptions(v, os.Hostname)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.String(flagConfig, "", "YAML configuration file, defaults to ./"+defaultConfigFile+" when present (env: DCCERT_CONFIG)")
	persistent.String(flagLdapURL, "", "directory URL, overrides ldap.url (env: DCCERT_LDAP_URL)")
	persistent.String(flagOutputDir, "", "directory for request and certificate files, overrides output_dir (env: DCCERT_OUTPUT_DIR)")
	persistent.Int(logging.FlagName, 0, "log verbosity: -2 error, -1 warn, 0 info, 1 debug (env: DCCERT_LOG_VERBOSITY)")
	persistent.Bool(flagDevelopment, false, "human readable console logs")
	_ = persistent.MarkHidden(flagDevelopment)

	flags := cmd.Flags()
	flags.StringSlice(flagComputerName, nil, "domain controllers to request certificates for, defaults to the local host (env: DCCERT_COMPUTER_NAME)")
	flags.String(flagLdapVipName, "", "load balanced LDAP name added as a subject alternative name, required (env: DCCERT_LDAP_VIP_NAME)")
	flags.String(flagTemplateName, core.DefaultTemplateName, "certificate template name (env: DCCERT_CERTIFICATE_TEMPLATE_NAME)")
	flags.Bool(flagExportRequestInf, false, "keep a readable .inf next to the request (env: DCCERT_EXPORT_REQUEST_INF)")
	flags.Bool(flagCompleteRequest, false, "submit the request and install the issued certificate when possible (env: DCCERT_COMPLETE_REQUEST)")
	flags.String(flagLoadBalancing, string(core.PolicyRandom), "certificate authority selection: Random or ADSite (env: DCCERT_LOAD_BALANCING)")
	flags.Bool(flagSkipCertificateInstall, false, "never install the issued certificate (env: DCCERT_SKIP_CERTIFICATE_INSTALL)")

	cmd.AddCommand(newHistoryCommand(v))
	return cmd
}

// bindFlags 将本命令可见的全部参数绑定到 viper
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("绑定参数 %s 失败: %w", f.Name, err)
		}
	})
	return bindErr
}

func readGlobalOptions(v *viper.Viper) globalOptions {
	return globalOptions{
		configPath:   v.GetString(flagConfig),
		ldapURL:      v.GetString(flagLdapURL),
		outputDir:    v.GetString(flagOutputDir),
		logVerbosity: v.GetInt(logging.FlagName),
		development:  v.GetBool(flagDevelopment),
	}
}

func readRunOptions(v *viper.Viper, hostname func() (string, error)) (runOptions, error) {
	opts := runOptions{globalOptions: readGlobalOptions(v)}

	opts.computerNames = splitNames(v.GetStringSlice(flagComputerName))
	if len(opts.computerNames) == 0 {
		name, err := hostname()
		if err != nil {
			return opts, fmt.Errorf("获取本机名称失败: %w", err)
		}
		opts.computerNames = []string{name}
	}

	policy, err := core.ParsePolicy(v.GetString(flagLoadBalancing))
	if err != nil {
		return opts, err
	}

	opts.params = core.Params{
		LdapVipName:            strings.TrimSpace(v.GetString(flagLdapVipName)),
		TemplateName:           v.GetString(flagTemplateName),
		ExportRequestInf:       v.GetBool(flagExportRequestInf),
		CompleteRequest:        v.GetBool(flagCompleteRequest),
		SkipCertificateInstall: v.GetBool(flagSkipCertificateInstall),
		Policy:                 policy,
	}
	if opts.params.LdapVipName == "" {
		return opts, fmt.Errorf("缺少必需参数 --%s", flagLdapVipName)
	}
	return opts, nil
}

// splitNames 环境变量中的主机列表可以用逗号或空白分隔
func splitNames(values []string) []string {
	var names []string
	for _, value := range values {
		for _, name := range strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		}) {
			names = append(names, name)
		}
	}
	return names
}

func newLogger(opts globalOptions) *zap.SugaredLogger {
	return logging.New(
		logging.WithVerbosity(opts.logVerbosity),
		logging.WithDevelopment(opts.development),
	)
}

// loadConfig 加载配置文件并应用命令行覆盖
func loadConfig(opts globalOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	var overrides []config.Override
	if opts.ldapURL != "" {
		overrides = append(overrides, func(c *config.Config) { c.LDAP.URL = opts.ldapURL })
	}
	if opts.outputDir != "" {
		overrides = append(overrides, func(c *config.Config) { c.OutputDir = opts.outputDir })
	}
	return config.Load(path, overrides...)
}

func run(ctx context.Context, opts runOptions, out io.Writer) error {
	log := newLogger(opts.globalOptions)
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig(opts.globalOptions)
	if err != nil {
		return err
	}

	factory := core.NewFactory(cfg, log, out)
	defer func() {
		if err := factory.Close(); err != nil {
			log.Warnw("关闭结果记录失败", "error", err)
		}
	}()

	rawTemplate, err := factory.RequestTemplate()
	if err != nil {
		return err
	}
	coordinator, err := factory.Coordinator()
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	signals := interrupt.NewHandler(ctx, log)
	signals.Start()
	defer signals.Stop()

	_, err = coordinator.Run(signals.Context(), opts.computerNames, opts.params, rawTemplate)
	return err
}
