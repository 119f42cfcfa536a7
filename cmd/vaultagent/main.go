/*
 * Copyright 2023 Comcast Cable Communications Management, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	logg "log"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/outpost-run/vaultagent/config"
	"github.com/outpost-run/vaultagent/httpadmin"
	"github.com/outpost-run/vaultagent/logger"
	"github.com/outpost-run/vaultagent/scheduler"
	"github.com/outpost-run/vaultagent/session"
	"github.com/outpost-run/vaultagent/vaultapi"
)

const app = "vaultagent"

var (
	a = kingpin.New(app, "long-lived Vault AppRole client that keeps a token alive and caches KV and database secrets")

	vaultAddr      = a.Flag("vault.addr", "Vault instance address").Default("http://127.0.0.1:8200").Envar("VAULT_ADDRESS").String()
	vaultNamespace = a.Flag("vault.namespace", "Vault Enterprise namespace").Default("").Envar("VAULT_NAMESPACE").String()
	vaultRoleID    = a.Flag("vault.role-id", "Vault AppRole Role ID").Default("").Envar("VAULT_ROLE_ID").String()
	vaultSecretID  = a.Flag("vault.secret-id", "Vault AppRole Secret ID").Default("").Envar("VAULT_SECRET_ID").String()
	entity         = a.Flag("entity", "entity name used to derive the kv and database mount prefixes").Default(config.DefaultEntity).Envar("VAULT_ENTITY").String()
	httpTimeout    = a.Flag("http.timeout", "per-request timeout against Vault").Default("30s").Envar("HTTP_TIMEOUT").Duration()
	maxRespBytes   = a.Flag("http.max-response-bytes", "cap on a single Vault response body; 0 disables the cap").Default("4096").Envar("HTTP_MAX_RESPONSE_BYTES").Int64()

	kvEnabled    = a.Flag("kv.enabled", "enable the KV v2 secret cache").Default("false").Envar("KV_ENABLED").Bool()
	kvPath       = a.Flag("kv.path", "KV v2 path under the entity mount, e.g. app/config; resolved as {entity}-kv/data/{kv.path}").Default("").Envar("KV_PATH").String()
	kvRefresh    = a.Flag("kv.refresh-interval", "how often the KV cache refreshes").Default("300s").Envar("KV_REFRESH_INTERVAL").Duration()
	dynEnabled   = a.Flag("dynamic-db.enabled", "enable the dynamic database credentials cache").Default("false").Envar("DYNAMIC_DB_ENABLED").Bool()
	dynPath      = a.Flag("dynamic-db.path", "dynamic database role_id, e.g. readonly; resolved as {entity}-database/creds/{dynamic-db.path}").Default("").Envar("DYNAMIC_DB_PATH").String()
	staticEnabled = a.Flag("static-db.enabled", "enable the static database credentials cache").Default("false").Envar("STATIC_DB_ENABLED").Bool()
	staticPath    = a.Flag("static-db.path", "static database role_id, e.g. reporting; resolved as {entity}-database/static-creds/{static-db.path}").Default("").Envar("STATIC_DB_PATH").String()

	adminPort = a.Flag("admin.port", "admin http server port").Default("9533").Envar("ADMIN_PORT").String()

	logMethod         = a.Flag("log.method", "alternative method for logging in addition to stdout").PlaceHolder("[file|vector]").Default("").Envar("LOG_METHOD").String()
	logFilePath       = a.Flag("log.file-path", "directory path where log files are written if log-method is file").Default("/var/log/vaultagent").Envar("LOG_FILE_PATH").String()
	logFileMaxSize    = a.Flag("log.file-max-size", "max file size in megabytes if log-method is file").Default("256").Envar("LOG_FILE_MAX_SIZE").Int()
	logFileMaxBackups = a.Flag("log.file-max-backups", "max file backups before they are rotated if log-method is file").Default("1").Envar("LOG_FILE_MAX_BACKUPS").Int()
	logFileMaxAge     = a.Flag("log.file-max-age", "max file age in days before they are rotated if log-method is file").Default("1").Envar("LOG_FILE_MAX_AGE").Int()
	vectorEndpoint    = a.Flag("vector.endpoint", "vector endpoint to send structured json logs to").Default("http://0.0.0.0:4444").Envar("VECTOR_ENDPOINT").String()

	log *zap.Logger
)

var wg = sync.WaitGroup{}

func main() {
	ctx := context.Background()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	// silence net/http's internal logger; it otherwise duplicates
	// transport errors we already log through zap.
	logg.SetOutput(io.Discard)

	a.HelpFlag.Short('h')
	if _, err := a.Parse(os.Args[1:]); err != nil {
		panic(fmt.Errorf("error parsing argument flags: %s", err.Error()))
	}

	if *logMethod == "file" {
		fd, err := os.Stat(*logFilePath)
		if os.IsNotExist(err) {
			panic(err)
		}
		if !fd.IsDir() {
			panic(fmt.Errorf("%s is not a directory", *logFilePath))
		}
	}

	logger.Initialize(app, hostname, logger.LoggerConfig{
		LogMethod: *logMethod,
		LogFile: logger.LogFile{
			Path:       *logFilePath,
			MaxSize:    *logFileMaxSize,
			MaxBackups: *logFileMaxBackups,
			MaxAge:     *logFileMaxAge,
		},
		VectorEndpoint: *vectorEndpoint,
	})
	// every zap.L() call process-wide, including inside session/scheduler,
	// now carries this run's instance ID so logs from one agent process
	// can be grouped even when several run behind the same log sink.
	instanceID := uuid.NewString()
	zap.ReplaceGlobals(zap.L().With(zap.String("instance_id", instanceID)))
	log = zap.L()
	defer logger.Flush()

	cfg := config.Default()
	cfg.VaultURL = *vaultAddr
	cfg.VaultNamespace = *vaultNamespace
	cfg.Entity = *entity
	cfg.HTTPTimeout = *httpTimeout
	cfg.MaxResponseSize = *maxRespBytes
	cfg.AppRoleID = *vaultRoleID
	cfg.AppSecretID = *vaultSecretID
	cfg.KV = config.DomainConfig{Enabled: *kvEnabled, Path: *kvPath}
	cfg.KVRefresh = *kvRefresh
	cfg.DynamicDB = config.DomainConfig{Enabled: *dynEnabled, Path: *dynPath}
	cfg.StaticDB = config.DomainConfig{Enabled: *staticEnabled, Path: *staticPath}

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	config.NewConfig(cfg)

	executor := vaultapi.NewRetryableExecutor(cfg.HTTPTimeout, cfg.MaxResponseSize)
	client := vaultapi.NewClient(executor, cfg.VaultURL, cfg.VaultNamespace)

	if warning, err := client.CheckServerVersion(ctx); err != nil {
		log.Warn("could not determine vault server version", zap.Error(err))
	} else if warning != "" {
		log.Warn(warning)
	}

	sess := session.New(cfg, client)
	if err := sess.Login(ctx); err != nil {
		log.Fatal("initial vault login failed", zap.Error(err))
	}

	sch := scheduler.New(cfg, sess)
	sch.Start(ctx)

	adminServer := &http.Server{
		Addr:    ":" + *adminPort,
		Handler: httpadmin.New(sess),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin http server failed", zap.Error(err))
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s := <-signals
		log.Info(s.String() + " signal caught, shutting down")
		// a second SIGINT forces an immediate exit
		signal.Stop(signals)
		signal.Notify(signals, os.Interrupt)
		go func() {
			<-signals
			log.Warn("second interrupt received, forcing exit")
			os.Exit(1)
		}()

		sch.Stop()
		sch.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error("admin http server shutdown failed", zap.Error(err))
		}
		if err := sess.Close(shutdownCtx); err != nil {
			log.Error("session close failed", zap.Error(err))
		}
	}()

	log.Info("started " + app)
	wg.Wait()
}
