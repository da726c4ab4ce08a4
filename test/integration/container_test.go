package integration

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const postgresImage = "postgres:16-alpine"

// startPostgres runs a throwaway postgres container through the Docker CLI.
// Docker picks the host port, which is read back with `docker port`.
func startPostgres(ctx context.Context) (string, func(), error) {
	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm", "-P",
		"-e", "POSTGRES_USER=testuser",
		"-e", "POSTGRES_PASSWORD=testpass",
		"-e", "POSTGRES_DB=summarytest",
		postgresImage,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run: %w\noutput: %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	stop := func() { exec.Command("docker", "stop", id).Run() }

	addr, err := hostAddr(ctx, id)
	if err != nil {
		stop()
		return "", nil, err
	}

	connStr := fmt.Sprintf("postgres://testuser:testpass@%s/summarytest?sslmode=disable", addr)
	if err := waitForPostgres(ctx, connStr, 30*time.Second); err != nil {
		stop()
		return "", nil, err
	}
	return connStr, stop, nil
}

// hostAddr returns the host side of the container's 5432 mapping.
func hostAddr(ctx context.Context, id string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", id, "5432/tcp").Output()
	if err != nil {
		return "", fmt.Errorf("docker port: %w", err)
	}
	// one line per address family; the first one is enough
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	host, port, err := net.SplitHostPort(line)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", line, err)
	}
	if host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port), nil
}

// waitForPostgres polls until the server answers a query. The image restarts
// postgres once after init, so a single successful ping is not enough.
func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready := 0
	for {
		conn, err := pgx.Connect(ctx, connStr)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(ctx)
		}
		if err == nil {
			ready++
			if ready == 2 {
				return nil
			}
		} else {
			ready = 0
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v (last error: %v)", timeout, err)
		case <-time.After(500 * time.Millisecond):
		}
	}
}
