// Package worker contains the "macworp worker" command.
package worker

import (
	"context"
	"syscall"

	"github.com/imdario/mergo"
	"github.com/spf13/cobra"

	"github.com/macworp/macworp/cmd/version"
	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/logger"
	"github.com/macworp/macworp/util"
	"github.com/macworp/macworp/worker"
)

var log = logger.New("worker cmd")
var configFile string
var flagConf = config.Config{}

// Cmd represents the `macworp worker` CLI command set.
var Cmd = &cobra.Command{
	Use:   "worker",
	Short: "Runs a MAcWorP workflow worker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.DefaultConfig()
		if err := config.ParseFile(configFile, &conf); err != nil {
			return err
		}

		conf = config.InheritWorkerProperties(conf)
		flagConf = config.InheritWorkerProperties(flagConf)

		// file vals <- cli vals
		if err := mergo.MergeWithOverwrite(&conf, flagConf); err != nil {
			return err
		}

		if err := conf.Validate(); err != nil {
			return err
		}
		return Run(conf)
	},
}

func init() {
	flags := Cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Config File")
	flags.StringVar(&flagConf.Worker.BackendURL, "backend-url", flagConf.Worker.BackendURL, "Base URL of the backend API")
	flags.StringVar(&flagConf.Worker.ProjectsRoot, "projects-root", flagConf.Worker.ProjectsRoot, "Directory holding the project directories")
	flags.StringVar(&flagConf.Broker.URL, "broker-url", flagConf.Broker.URL, "AMQP URL of the message broker")
	flags.StringVar(&flagConf.Broker.Queue, "queue", flagConf.Broker.Queue, "Name of the project queue")
	flags.IntVar(&flagConf.Worker.Executors, "executors", flagConf.Worker.Executors, "Number of concurrent workflow executions")
	flags.BoolVar(&flagConf.Worker.KeepIntermediateFiles, "keep-intermediate-files", flagConf.Worker.KeepIntermediateFiles, "Keep engine work directories after a run")
	flags.StringVar(&flagConf.Worker.Logger.Level, "log-level", flagConf.Worker.Logger.Level, "Level of logging")
	flags.StringVar(&flagConf.Worker.Logger.OutputFile, "log-path", flagConf.Worker.Logger.OutputFile, "File path to write logs to")
}

// Run runs a MAcWorP worker, consuming queued projects until interrupted.
func Run(conf config.Config) error {
	log.Configure(conf.Worker.Logger)
	version.Log(log)

	ctx := util.SignalContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return worker.NewWorker(conf, log).Run(ctx)
}
