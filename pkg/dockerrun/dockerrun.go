// Package dockerrun runs a single containerized step via the real Docker
// Engine API client, replacing a shelled-out "docker run" invocation: it
// creates a container from a resolved step definition, streams demuxed
// stdout/stderr through the same line/chunk/mask contract as pkg/process,
// waits for it to exit, and always removes it.
package dockerrun

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/process"
)

var log = logging.New("dockerrun")

// Runner owns a Docker API client.
type Runner struct {
	api *client.Client
}

// NewRunner dials the Docker daemon via the standard environment variables
// (DOCKER_HOST, DOCKER_CERT_PATH, ...), negotiating the API version.
func NewRunner() (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dockerrun: connect: %w", err)
	}
	return &Runner{api: cli}, nil
}

// Close releases the underlying client connection.
func (r *Runner) Close() error {
	if r == nil || r.api == nil {
		return nil
	}
	return r.api.Close()
}

// Request describes one containerized step invocation. Fields are already
// validated (image name, workdir, mount targets, identifiers) by the
// caller before Run is invoked.
type Request struct {
	Image      string
	Command    string // shell-interpreted inside the container via "sh -c"
	Workdir    string
	Env        map[string]string
	Binds      []string // "host:container[:ro]" mount specs
	Network    string
	MaskValues []string
	ChunkSize  int
	OnLine     func(process.Line)
	OnChunk    func(process.Chunk)
}

// Result mirrors process.Result so callers can treat a containerized step
// and a shell step identically once Run returns.
type Result struct {
	ExitCode   int
	DurationMS int64
}

// Run creates, starts, streams, waits for, and removes one container.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	cfg := &container.Config{
		Image:      req.Image,
		Cmd:        []string{"sh", "-c", req.Command},
		WorkingDir: req.Workdir,
		Env:        envSlice(req.Env),
	}
	hostCfg := &container.HostConfig{
		Binds: req.Binds,
	}
	if req.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(req.Network)
	}

	created, err := r.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("dockerrun: create container: %w", err)
	}
	containerID := created.ID
	defer r.remove(containerID)

	if err := r.api.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("dockerrun: start container: %w", err)
	}

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		if err := r.streamLogs(ctx, containerID, req); err != nil {
			log.Warn("docker log stream ended with error", "container_id", containerID, "error", err)
		}
	}()

	statusCh, errCh := r.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	result := Result{}
	select {
	case err := <-errCh:
		if err != nil {
			result.ExitCode = process.ExitAborted
			result.DurationMS = time.Since(start).Milliseconds()
			return result, nil
		}
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		result.ExitCode = process.ExitAborted
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}

	<-logsDone
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

// streamLogs follows the container's combined log stream, demuxes it into
// stdout/stderr via stdcopy, and turns each demuxed stream into
// line-numbered, masked, chunked callbacks through an in-process pipe.
func (r *Runner) streamLogs(ctx context.Context, containerID string, req Request) error {
	reader, err := r.api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	stdoutPR, stdoutPW := io.Pipe()
	stderrPR, stderrPW := io.Pipe()

	done := make(chan struct{}, 2)
	go func() {
		consumeLines(stdoutPR, process.Stdout, req)
		done <- struct{}{}
	}()
	go func() {
		consumeLines(stderrPR, process.Stderr, req)
		done <- struct{}{}
	}()

	_, copyErr := stdcopy.StdCopy(stdoutPW, stderrPW, reader)
	stdoutPW.Close()
	stderrPW.Close()
	<-done
	<-done
	return copyErr
}

func consumeLines(r io.Reader, source process.Source, req Request) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	chunkStart := 1
	var chunkBuf strings.Builder
	chunkLines := 0

	flush := func() {
		if chunkLines == 0 || req.OnChunk == nil {
			chunkLines = 0
			chunkBuf.Reset()
			return
		}
		req.OnChunk(process.Chunk{Source: source, LineStart: chunkStart, LineCount: chunkLines, Text: chunkBuf.String()})
		chunkBuf.Reset()
		chunkLines = 0
	}

	for scanner.Scan() {
		lineNum++
		text := process.Mask(scanner.Text(), req.MaskValues)

		if req.OnLine != nil {
			req.OnLine(process.Line{Source: source, Number: lineNum, Text: text})
		}
		if req.ChunkSize > 0 {
			if chunkLines == 0 {
				chunkStart = lineNum
			}
			chunkBuf.WriteString(text)
			chunkBuf.WriteByte('\n')
			chunkLines++
			if chunkLines >= req.ChunkSize {
				flush()
			}
		}
	}
	flush()
}

func (r *Runner) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		log.Warn("failed to remove container", "container_id", containerID, "error", err)
	}
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
