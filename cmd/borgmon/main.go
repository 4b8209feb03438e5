package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"
	"webup/borgmon"
	"webup/borgmon/auth"
	"webup/borgmon/bolt"
	"webup/borgmon/config"
	"webup/borgmon/http"
	"webup/borgmon/privatehttp"
	"webup/borgmon/tasks"

	cli "github.com/jawher/mow.cli"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
)

func main() {
	app := cli.App("borgmon", "Monitor borg/borgmatic backup jobs")

	app.Version("v version", "Borgmon 1 (build 1)")

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	app.Command("daemon", "Start the monitoring server", func(cmd *cli.Cmd) {

		cmd.Spec = "[--config] [--api-listen] [--private-api-listen] [--data-dir] [--config-dir] [--debug]"

		configPath := cmd.String(cli.StringOpt{
			Name:   "config",
			Value:  "",
			Desc:   "Path to the server config file",
			EnvVar: "BORGMON_CONFIG",
		})
		apiListenOpt := cmd.StringOpt("api-listen", "", "Configure IP and port for the HTTP API (overrides config file)")
		privateListenOpt := cmd.StringOpt("private-api-listen", "", "Configure IP and port for the private HTTP API (overrides config file)")
		dataDirOpt := cmd.StringOpt("data-dir", "", "Directory where the state will be stored (r/w permissions required, overrides config file)")
		configDirOpt := cmd.StringOpt("config-dir", "", "Directory containing the job spec files (overrides config file)")
		debug := cmd.BoolOpt("debug", false, "Enables the debug logs output")

		cmd.Action = func() {

			// set debug log level if needed
			if *debug {
				log.SetLevel(log.DebugLevel)
			}

			serverConfig, err := config.Load(*configPath)
			if err != nil {
				log.WithFields(log.Fields{
					"err": err,
				}).Fatalln("Unable to load the server configuration")
			}

			// prepare settings
			currentSettings := serverConfig.Settings()
			if *apiListenOpt != "" {
				currentSettings.APIListen = *apiListenOpt
			}
			if *privateListenOpt != "" {
				currentSettings.PrivateAPIListen = *privateListenOpt
			}
			if *dataDirOpt != "" {
				currentSettings.DataDir = *dataDirOpt
			}
			if *configDirOpt != "" {
				currentSettings.ConfigDir = *configDirOpt
			}

			path, _ := homedir.Expand(currentSettings.Auth.SecretFilepath)
			currentSettings.Auth.SecretFilepath = path
			if err := auth.EnsureSecret(path); err != nil {
				log.WithFields(log.Fields{
					"path": path,
					"err":  err,
				}).Fatalln("Unable to prepare the session token secret")
			}

			if err := os.MkdirAll(currentSettings.DataDir, 0700); err != nil {
				log.WithFields(log.Fields{
					"path": currentSettings.DataDir,
					"err":  err,
				}).Fatalln("Unable to prepare the data directory")
			}

			ctx, cancel := context.WithCancel(context.Background())
			ctx = borgmon.NewContextWithSettings(ctx, currentSettings)

			// load the configured jobs once before serving
			tasks.UpdateJobsFromSpec(ctx)

			// handle the SIGINT signal
			waiting := make(chan os.Signal, 1)
			signal.Notify(waiting, os.Interrupt)

			// refresh the job registry periodically, so spec file edits are
			// picked up without a restart
			ticker := time.NewTicker(5 * time.Minute)

			go func() {
				for {
					select {
					case <-ticker.C:
						log.Debugln("Tick received")
						tasks.UpdateJobsFromSpec(ctx)
					case <-ctx.Done():
						return
					}
				}
			}()

			// start HTTP API daemons
			startAPI(ctx)
			startPrivateAPI(ctx)

			// waiting for signal
			<-waiting
			// stop the ticker
			ticker.Stop()
			// cancelling ctx
			cancel()
			// cleanup current state storage
			if storage, err := bolt.GetStorage(currentSettings); err == nil {
				storage.Cleanup()
			}

			log.Infoln("Stopped.")
		}
	})

	app.Command("sync", "Replay the event log of a job to reconcile its status", func(cmd *cli.Cmd) {

		cmd.Spec = "[--url] JOB_ID"

		url := cmd.StringOpt("url", "http://127.0.0.1:22258", "URL of private API")
		jobID := cmd.StringArg("JOB_ID", "", "A job id configured inside borgmon")

		cmd.Action = func() {
			client := privatehttp.NewClient(*url)
			result, err := client.Sync(*jobID)
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				cli.Exit(1)
			}

			fmt.Println("events processed:", result.EventsProcessed)
			fmt.Println("    final status:", result.FinalStatus)
			if result.LastBackup != nil {
				fmt.Println("     last backup:", result.LastBackup)
			}
			if result.LastSuccessfulBackup != nil {
				fmt.Println("    last success:", result.LastSuccessfulBackup)
			}
		}

	})

	app.Run(os.Args)
}

func startAPI(ctx context.Context) {
	go func() {
		api := http.NewAPI()
		if err := api.Listen(ctx); err != nil {
			log.WithFields(log.Fields{
				"err": err,
			}).Fatalln("HTTP API stopped")
		}
	}()
}

func startPrivateAPI(ctx context.Context) {
	go func() {
		api := privatehttp.NewAPI()
		if err := api.Listen(ctx); err != nil {
			log.WithFields(log.Fields{
				"err": err,
			}).Fatalln("Private HTTP API stopped")
		}
	}()
}
