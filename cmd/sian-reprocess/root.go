package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/justiciasalta/sian-sync/config"
	"github.com/justiciasalta/sian-sync/internal/broker/kafka"
	"github.com/justiciasalta/sian-sync/internal/cache/rediscache"
	"github.com/justiciasalta/sian-sync/internal/integrations/sian"
	"github.com/justiciasalta/sian-sync/internal/integrations/sian/fake"
	"github.com/justiciasalta/sian-sync/internal/integrations/sian/mpsoap"
	"github.com/justiciasalta/sian-sync/internal/models"
	"github.com/justiciasalta/sian-sync/internal/services/history"
	"github.com/justiciasalta/sian-sync/internal/services/reprocess"
	"github.com/justiciasalta/sian-sync/internal/storage/pgnotif"
	"github.com/justiciasalta/sian-sync/internal/storage/pgpanel"
	"github.com/justiciasalta/sian-sync/internal/summary"
)

type cliOptions struct {
	configPath string
	useTestEnv bool
	estado     string
	dias       int
	codigo     string
	reportDir  string
}

// reprocessor is what the command needs from the reprocess service.
type reprocessor interface {
	ByState(ctx context.Context, state string, maxAgeDays int, col *summary.Collector) ([]reprocess.ItemReport, error)
	All(ctx context.Context, maxAgeDays int, col *summary.Collector) ([]reprocess.ItemReport, error)
	ByCode(ctx context.Context, code string, col *summary.Collector) (reprocess.ItemReport, error)
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "sian-reprocess",
		Short: "Reprocesa cédulas de notificación contra el servicio SIAN",
		Long: `Vuelve a consultar el servicio SIAN para las cédulas seleccionadas y
reconcilia el historial y el último estado almacenados. Sin banderas
reprocesa todas las cédulas activas; --estado y --codigodeseguimientomp
acotan la selección.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.useTestEnv {
				cfg.SOAP.Environment = string(models.EnvTest)
			}

			svc, closeAll, err := buildReprocessService(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			return runReprocess(cmd.Context(), cfg, opts, svc, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", os.Getenv("configPath"), "ruta del archivo de configuración")
	cmd.Flags().BoolVar(&opts.useTestEnv, "test", false, "consulta el ambiente de prueba del servicio SIAN")
	cmd.Flags().StringVar(&opts.estado, "estado", "", "reprocesa solo las cédulas cuyo último estado coincide")
	cmd.Flags().IntVar(&opts.dias, "dias", 45, "omite cédulas con último estado más viejo que N días (0 = sin límite)")
	cmd.Flags().StringVar(&opts.codigo, "codigodeseguimientomp", "", "reprocesa una única cédula por código de seguimiento")
	cmd.Flags().StringVar(&opts.reportDir, "report", "", "directorio del informe de cambios (por defecto el de la configuración)")
	return cmd
}

// buildReprocessService wires the storages, the SOAP client and the
// history syncer the same way the sync worker does.
func buildReprocessService(cfg *config.Config) (*reprocess.Service, func(), error) {
	ops, err := pgnotif.New(cfg.Operational.ConnString())
	if err != nil {
		return nil, nil, err
	}
	panel, err := pgpanel.New(cfg.Panel.ConnString())
	if err != nil {
		ops.Close()
		return nil, nil, err
	}

	client := newSianClient(cfg)

	var cache *rediscache.RedisCache
	if cfg.Redis.Host != "" {
		cache = rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
	}

	syncer := history.New(ops, panel).
		WithFiles(client).
		WithEmptyHistoryPolicy(cfg.Sync.EmptyHistoryPolicy)
	if cfg.Kafka.Host != "" {
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		syncer = syncer.WithProducer(kafka.NewProducer(brokers))
	}
	if cache != nil {
		syncer = syncer.WithCache(cache)
	}

	closeAll := func() {
		if cache != nil {
			cache.Close() //nolint:errcheck
		}
		panel.Close()
		ops.Close()
	}
	return reprocess.New(ops, panel, client, syncer), closeAll, nil
}

func newSianClient(cfg *config.Config) sian.Client {
	if cfg.SOAP.UsuarioNombre == "" {
		return fake.New()
	}
	env := models.EnvProduction
	if cfg.SOAP.Environment == string(models.EnvTest) {
		env = models.EnvTest
	}
	c := mpsoap.New(env, mpsoap.Credentials{
		UsuarioNombre: cfg.SOAP.UsuarioNombre,
		UsuarioClave:  cfg.SOAP.UsuarioClave,
	})
	return c.WithSettings(
		time.Duration(cfg.SOAP.TimeoutSeconds)*time.Second,
		time.Duration(cfg.SOAP.MinIntervalMS)*time.Millisecond,
		cfg.SOAP.MaxAttempts,
	)
}

func runReprocess(ctx context.Context, cfg *config.Config, opts *cliOptions, svc reprocessor, out io.Writer) error {
	col := summary.NewCollector()

	var (
		reports []reprocess.ItemReport
		label   string
		err     error
	)
	switch {
	case opts.codigo != "":
		label = opts.codigo
		var rep reprocess.ItemReport
		rep, err = svc.ByCode(ctx, opts.codigo, col)
		reports = []reprocess.ItemReport{rep}
	case opts.estado != "":
		label = opts.estado
		reports, err = svc.ByState(ctx, opts.estado, opts.dias, col)
	default:
		label = "todas"
		reports, err = svc.All(ctx, opts.dias, col)
	}
	if err != nil {
		return err
	}

	changed := 0
	for _, r := range reports {
		if r.Changed {
			changed++
			fmt.Fprintf(out, "cambiada: %s\n", r.Code)
		}
	}
	fmt.Fprintf(out, "procesadas=%d cambiadas=%d; %s\n", len(reports), changed, col.String())

	reportDir := opts.reportDir
	if reportDir == "" {
		reportDir = cfg.Sync.ReportDir
	}
	if reportDir != "" {
		path, werr := reprocess.WriteChangedReport(reportDir, label, reports)
		if werr != nil {
			return werr
		}
		if path != "" {
			fmt.Fprintf(out, "informe: %s\n", path)
		}
	}

	if !col.OK() {
		for _, line := range col.Errors() {
			fmt.Fprintf(out, "error: %s\n", line)
		}
		return errors.Errorf("reproceso terminó con %d errores", col.ErrorCount())
	}
	return nil
}
