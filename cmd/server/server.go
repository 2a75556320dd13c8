// Package server contains the "macworp server" command.
package server

import (
	"context"
	"syscall"

	"github.com/imdario/mergo"
	"github.com/spf13/cobra"

	"github.com/macworp/macworp/broker"
	"github.com/macworp/macworp/cmd/version"
	"github.com/macworp/macworp/config"
	"github.com/macworp/macworp/events"
	"github.com/macworp/macworp/logger"
	"github.com/macworp/macworp/server"
	"github.com/macworp/macworp/server/boltdb"
	"github.com/macworp/macworp/util"
)

var log = logger.New("server cmd")
var configFile string
var flagConf = config.Config{}

// Cmd represents the `macworp server` CLI command set.
var Cmd = &cobra.Command{
	Use:   "server",
	Short: "Runs a MAcWorP backend server.",
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
	flags.StringVar(&flagConf.Server.HostName, "hostname", flagConf.Server.HostName, "Host name or IP")
	flags.StringVar(&flagConf.Server.HTTPPort, "http-port", flagConf.Server.HTTPPort, "HTTP Port")
	flags.StringVar(&flagConf.Server.DBPath, "db-path", flagConf.Server.DBPath, "Database path")
	flags.StringVar(&flagConf.Server.ProjectsRoot, "projects-root", flagConf.Server.ProjectsRoot, "Directory holding the project directories")
	flags.StringVar(&flagConf.Broker.URL, "broker-url", flagConf.Broker.URL, "AMQP URL of the message broker")
	flags.StringVar(&flagConf.Broker.Queue, "queue", flagConf.Broker.Queue, "Name of the project queue")
	flags.StringVar(&flagConf.Server.Logger.Level, "log-level", flagConf.Server.Logger.Level, "Level of logging")
	flags.StringVar(&flagConf.Server.Logger.OutputFile, "log-path", flagConf.Server.Logger.OutputFile, "File path to write logs to")
}

// Run runs a MAcWorP backend server. This opens the project database and
// serves the HTTP API until interrupted.
func Run(conf config.Config) error {
	log.Configure(conf.Server.Logger)
	version.Log(log)

	db, err := boltdb.NewBoltDB(conf.Server, log)
	if err != nil {
		log.Error("Couldn't open database", err)
		return err
	}
	defer db.Close()

	hub := events.NewHub(logger.New("events"))
	srv := &server.Server{
		Conf:      conf.Server,
		DB:        db,
		Publisher: broker.NewPublisher(conf.Broker),
		Events:    events.MultiWriter(hub, events.NewLogger("events")),
		Hub:       hub,
		Log:       log,
	}

	ctx := util.SignalContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return srv.Serve(ctx)
}
