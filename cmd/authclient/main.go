package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-client/authclient"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/filestore"
	"github.com/jrsteele09/go-auth-client/credentials/memstore"
	"github.com/jrsteele09/go-auth-client/credentials/redisstore"
	"github.com/jrsteele09/go-auth-client/internal/config"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/testserver"
	authmetrics "github.com/jrsteele09/go-auth-client/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	demoUser     = "demo"
	demoPassword = "demo"
)

type flags struct {
	demo     bool
	requests int
	path     string
	username string
	password string
}

func main() {
	_ = godotenv.Load()

	var f flags
	flag.BoolVar(&f.demo, "demo", false, "run against an in-process token server with expired tokens")
	flag.IntVar(&f.requests, "n", 5, "number of concurrent requests")
	flag.StringVar(&f.path, "path", "/api/me", "path requested on the API")
	flag.StringVar(&f.username, "user", os.Getenv("AUTH_USERNAME"), "log in with the password grant as this user")
	flag.StringVar(&f.password, "password", os.Getenv("AUTH_PASSWORD"), "password for -user")
	flag.Parse()

	if err := run(f); err != nil {
		log.Fatal().Err(err).Msg("Error running client")
	}
	log.Info().Msg("Client stopped")
}

func run(f flags) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiBaseURL := c.GetAPIBaseURL()
	tokenURL := c.GetTokenURL()
	var (
		baseClient *http.Client
		srv        *testserver.Server
	)
	if f.demo {
		srv = testserver.New(
			testserver.WithUser(demoUser, demoPassword),
			testserver.WithRotation(true),
			testserver.WithLogger(log.Logger),
		)
		defer srv.Close()
		apiBaseURL, tokenURL, baseClient = srv.URL, srv.TokenURL(), srv.Client()
		f.username, f.password = demoUser, demoPassword
		log.Info().Str("url", srv.URL).Msg("Demo token server started")
	} else {
		baseClient = &http.Client{Timeout: 30 * time.Second}
	}

	store, closeStore, err := newStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	endpoint := oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	if issuer := c.GetIssuerURL(); issuer != "" && !f.demo {
		if endpoint, err = authclient.DiscoverEndpoint(ctx, issuer, baseClient); err != nil {
			return err
		}
		log.Info().Str("issuer", issuer).Str("token_url", endpoint.TokenURL).Msg("Discovered token endpoint")
	}
	refresher := authclient.NewOAuth2Refresher(&oauth2.Config{
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		Scopes:       c.GetScopes(),
		Endpoint:     endpoint,
	}, baseClient)

	reg := prometheus.NewRegistry()
	client := authclient.New(store, refresher,
		authclient.WithBaseTransport(baseClient.Transport),
		authclient.WithLogger(log.Logger),
		authclient.WithMetrics(authmetrics.New(reg, "authclient")),
		authclient.WithRefreshTimeout(c.GetRefreshTimeout()),
		authclient.WithSessionTerminator(authclient.SessionTerminatorFunc(func() {
			log.Warn().Msg("Session invalidated, log in again")
		})),
	)

	var metricsServer *http.Server
	if addr := c.GetMetricsAddr(); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go listenAndServe(metricsServer)
	}

	if f.username != "" {
		if err := refresher.Login(ctx, store, f.username, f.password); err != nil {
			return err
		}
		log.Info().Str("user", f.username).Msg("Logged in")
	}

	if srv != nil {
		// Expire what was just issued so every request below hits a 401.
		srv.ExpireAccessTokens()
	}

	failed := fire(ctx, client, apiBaseURL+f.path, f.requests)
	if srv != nil {
		log.Info().Int("refresh_calls", srv.RefreshCalls()).Msg("Demo finished")
	}

	if metricsServer != nil {
		log.Info().Str("addr", metricsServer.Addr).Msg("Serving metrics until stopped")
		<-ctx.Done()
		if err := shutdown(metricsServer); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, f.requests)
	}
	return nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func newStore(ctx context.Context, c config.Config) (credentials.Store, func(), error) {
	switch c.GetStoreType() {
	case config.MemoryStore:
		return memstore.New(), func() {}, nil
	case config.RedisStore:
		rdb := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, apperrors.Wrapf(err, "failed to reach redis at %s", c.GetRedisAddr())
		}
		return redisstore.New(rdb, c.GetRedisKeyPrefix()), func() { _ = rdb.Close() }, nil
	case config.FileStore:
		s, err := filestore.Open(c.GetCredentialFile(), c.GetCredentialPassphrase())
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown credential store %q", apperrors.ErrInvalidConfig, c.GetStoreType())
	}
}

// fire sends n requests at once, logs how each one ended, and returns how many
// failed.
func fire(ctx context.Context, client *authclient.Client, url string, n int) int {
	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger := log.With().Int("request", i).Logger()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				failed.Add(1)
				logger.Err(err).Msg("Failed to build request")
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				failed.Add(1)
				logger.Err(err).Msg("Request failed")
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			logger.Info().Int("status", resp.StatusCode).Bytes("body", body).Msg("Request succeeded")
		}()
	}
	wg.Wait()
	return int(failed.Load())
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("Metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Err(err).Msg("Metrics server stopped")
	}
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
