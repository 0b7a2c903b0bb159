package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-units"
)

const labelManagedBy = "termbridge"

// dockerStopTimeout is the seconds Docker waits between SIGTERM and SIGKILL
// when a container is force-removed.
const dockerStopTimeout = 5

// DockerFactory launches one locked-down container per shell session. The
// container runs only the restricted shell; removing the container is the
// kill path, so no orphaned processes survive a session.
type DockerFactory struct {
	client      *dockerclient.Client
	image       string
	nanoCPUs    int64
	memoryBytes int64
}

// NewDockerFactory connects to the Docker daemon, verifies it responds, and
// ensures the sandbox image is present.
func NewDockerFactory(ctx context.Context, host, img, cpuLimit, memoryLimit string) (*DockerFactory, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}

	client, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping: %w", err)
	}

	f := &DockerFactory{client: client, image: img}
	if cpuLimit != "" {
		f.nanoCPUs = parseCPUToNanoCPUs(cpuLimit)
	}
	if memoryLimit != "" {
		mem, err := units.RAMInBytes(memoryLimit)
		if err != nil {
			return nil, fmt.Errorf("parse memory limit %q: %w", memoryLimit, err)
		}
		f.memoryBytes = mem
	}

	if err := f.ensureImage(ctx, img); err != nil {
		return nil, err
	}

	log.Println("Docker daemon connected")
	return f, nil
}

func (f *DockerFactory) BackendName() string { return "docker" }

func parseCPUToNanoCPUs(cpuStr string) int64 {
	if strings.HasSuffix(cpuStr, "m") {
		val := cpuStr[:len(cpuStr)-1]
		var n int64
		fmt.Sscanf(val, "%d", &n)
		return n * 1_000_000
	}
	var v float64
	fmt.Sscanf(cpuStr, "%f", &v)
	return int64(v * 1_000_000_000)
}

func (f *DockerFactory) ensureImage(ctx context.Context, img string) error {
	_, _, err := f.client.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}

	log.Printf("Image %s not found locally, pulling...", img)
	reader, err := f.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	log.Printf("Image %s pulled", img)
	return nil
}

func (f *DockerFactory) Launch(ctx context.Context, spec LaunchSpec) (*Handle, error) {
	cols, rows := spec.geometry()
	name := "termbridge-" + spec.Name

	var pidsLimit int64 = 128
	containerCfg := &container.Config{
		Image:        f.image,
		Cmd:          spec.Command,
		Env:          spec.Env,
		Tty:          true,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Labels:       map[string]string{"managed-by": labelManagedBy, "session": spec.Name},
	}
	hostCfg := &container.HostConfig{
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			NanoCPUs:  f.nanoCPUs,
			Memory:    f.memoryBytes,
			PidsLimit: &pidsLimit,
		},
	}

	resp, err := f.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, &StartupError{Backend: "docker", Err: err}
	}
	containerID := resp.ID

	attach, err := f.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		f.removeContainer(containerID)
		return nil, &StartupError{Backend: "docker", Err: err}
	}

	if err := f.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		attach.Close()
		f.removeContainer(containerID)
		return nil, &StartupError{Backend: "docker", Err: err}
	}

	// Closures outlive the request that launched the session.
	bg := context.Background()
	if err := f.client.ContainerResize(bg, containerID, container.ResizeOptions{
		Width:  uint(cols),
		Height: uint(rows),
	}); err != nil {
		log.Printf("[docker] initial resize for %s: %v", name, err)
	}

	h := NewHandle(attach.Conn, attach.Reader,
		func(cols, rows uint16) error {
			return f.client.ContainerResize(bg, containerID, container.ResizeOptions{
				Width:  uint(cols),
				Height: uint(rows),
			})
		},
		func() error {
			attach.Close()
			timeout := dockerStopTimeout
			_ = f.client.ContainerStop(bg, containerID, container.StopOptions{Timeout: &timeout})
			f.removeContainer(containerID)
			return nil
		})

	go f.waitForExit(bg, containerID, attach.Close, h)

	return h, nil
}

// waitForExit watches the container and reports its exit status. The
// container is removed afterward regardless of how it ended.
func (f *DockerFactory) waitForExit(ctx context.Context, containerID string, closeAttach func(), h *Handle) {
	statusCh, errCh := f.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		h.Finish(ExitStatus{Code: 1, Reason: fmt.Sprintf("container wait failed: %v", err)})
	case status := <-statusCh:
		st := ExitStatus{Code: int(status.StatusCode), Reason: "shell exited"}
		if status.Error != nil {
			st.Reason = status.Error.Message
		}
		h.Finish(st)
	}
	closeAttach()
	f.removeContainer(containerID)
}

func (f *DockerFactory) removeContainer(containerID string) {
	err := f.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		log.Printf("[docker] remove container %s: %v", containerID[:12], err)
	}
}

// Ping reports whether the daemon is still reachable, for health checks.
func (f *DockerFactory) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := f.client.Ping(ctx)
	return err == nil
}
