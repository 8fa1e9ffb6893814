// Command workio-worker serves one scheme over the connection inherited
// from the application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/desertwitch/workio/internal/backend/file"
	s3backend "github.com/desertwitch/workio/internal/backend/s3"
	"github.com/desertwitch/workio/internal/configuration"
	"github.com/desertwitch/workio/internal/worker"
	"github.com/desertwitch/workio/internal/workerkit"
	"github.com/lmittmann/tint"
)

const (
	// KeyFileRoot confines the file scheme to a directory.
	KeyFileRoot = configuration.EnvPrefix + "FILE_ROOT"

	// KeyS3Endpoint points the s3 scheme at an S3 compatible service.
	KeyS3Endpoint = configuration.EnvPrefix + "S3_ENDPOINT"
)

// ErrUnknownScheme occurs when the worker is asked for a scheme it cannot
// serve.
var ErrUnknownScheme = errors.New("scheme not served by this worker")

//nolint:gochecknoglobals
var (
	ExitCode = 0

	scheme = flag.String("scheme", "", "scheme to serve")
	fd     = flag.Int("fd", worker.WorkerFD, "file descriptor of the application connection")
	host   = flag.String("host", "", "host the worker is bound to")
)

func setupLogging(level string) {
	lvl := slog.LevelInfo
	_ = lvl.UnmarshalText([]byte(level))

	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			NoColor:    true,
		}),
	).With("scheme", *scheme, "pid", os.Getpid()))
}

// newBackend returns the backend serving name.
func newBackend(ctx context.Context, name string, getenv func(string) string) (workerkit.Backend, error) {
	switch name {
	case "file":
		root := getenv(KeyFileRoot)
		if root == "" {
			root = "/"
		}

		return file.NewLocal(root), nil

	case "s3":
		var opts []func(*s3.Options)
		if endpoint := getenv(KeyS3Endpoint); endpoint != "" {
			opts = append(opts, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			})
		}

		b, err := s3backend.NewDefault(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("(worker-backend) %w", err)
		}

		return b, nil

	default:
		return nil, fmt.Errorf("(worker-backend) %w: %q", ErrUnknownScheme, name)
	}
}

func main() {
	defer func() {
		os.Exit(ExitCode)
	}()

	flag.Parse()
	setupLogging(os.Getenv(configuration.KeyLogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	conn := os.NewFile(uintptr(*fd), "workio-app") //nolint:gosec
	if conn == nil {
		slog.Error("Invalid connection descriptor.", "fd", *fd)
		ExitCode = 1

		return
	}
	defer conn.Close()

	backend, err := newBackend(ctx, *scheme, os.Getenv)
	if err != nil {
		slog.Error("Failed to set up the backend.", "err", err)
		ExitCode = 1

		return
	}

	slog.Debug("Worker started.", "host", *host)

	if err := workerkit.Serve(ctx, conn, *scheme, *host, backend); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("Worker stopped.", "err", err)
	}
}
