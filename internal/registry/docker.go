package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerNamespace is a namespace whose operator list is discovered at
// registration time by inspecting labels on a configured image, then
// invoked per-call by running the image with the operator name as its
// command and JSON-encoded arguments on stdin, reading a JSON-encoded
// result from stdout (SPEC_FULL.md §D.2). This is the engine's concrete
// dynamic-registration implementation (spec.md §4.5 "dynamically... by
// introspecting an external library").
type DockerNamespace struct {
	name      string
	image     string
	mountRoot string
	timeout   time.Duration
	operators []OperatorInfo
	cli       *client.Client
}

const (
	labelNamespace = "org.voxlogica.namespace"
	labelOperators = "org.voxlogica.operators"
)

// NewDockerNamespace inspects image for its namespace and operator labels
// and returns a Namespace backed by running that image per invocation.
func NewDockerNamespace(ctx context.Context, image, mountRoot string, timeout time.Duration) (*DockerNamespace, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("registry: docker namespace: create client: %w", err)
	}

	inspect, _, err := cli.ImageInspectWithRaw(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("registry: docker namespace: inspect %s: %w", image, err)
	}
	labels := inspect.Config.Labels
	name := labels[labelNamespace]
	if name == "" {
		return nil, fmt.Errorf("registry: docker namespace: image %s missing %s label", image, labelNamespace)
	}

	var operators []OperatorInfo
	for _, part := range strings.Split(labels[labelOperators], ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			operators = append(operators, OperatorInfo{Name: part})
		}
	}

	return &DockerNamespace{
		name: name, image: image, mountRoot: mountRoot, timeout: timeout,
		operators: operators, cli: cli,
	}, nil
}

func (d *DockerNamespace) Name() string { return d.name }

func (d *DockerNamespace) Operators() []OperatorInfo { return d.operators }

// Invoke runs a fresh container from d.image with operator as its command,
// writes args as JSON to the container's stdin, and decodes its stdout as
// the JSON-encoded result.
func (d *DockerNamespace) Invoke(ctx context.Context, operator string, args map[string]any) (any, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("registry: docker namespace %s.%s: encode args: %w", d.name, operator, err)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	containerConfig := &container.Config{
		Image:       d.image,
		Cmd:         []string{operator},
		AttachStdin: true, AttachStdout: true, AttachStderr: true,
		OpenStdin: true, StdinOnce: true,
	}
	hostConfig := &container.HostConfig{
		Mounts:     []mount.Mount{{Type: mount.TypeBind, Source: d.mountRoot, Target: "/data"}},
		AutoRemove: false,
	}

	resp, err := d.cli.ContainerCreate(invokeCtx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("registry: docker namespace %s.%s: create container: %w", d.name, operator, err)
	}
	defer d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	attach, err := d.cli.ContainerAttach(invokeCtx, resp.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: docker namespace %s.%s: attach: %w", d.name, operator, err)
	}
	defer attach.Close()

	if err := d.cli.ContainerStart(invokeCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("registry: docker namespace %s.%s: start: %w", d.name, operator, err)
	}

	if _, err := attach.Conn.Write(payload); err != nil {
		return nil, fmt.Errorf("registry: docker namespace %s.%s: write args: %w", d.name, operator, err)
	}
	attach.CloseWrite()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("registry: docker namespace %s.%s: read output: %w", d.name, operator, err)
	}

	statusCh, errCh := d.cli.ContainerWait(invokeCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("registry: docker namespace %s.%s: wait: %w", d.name, operator, err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return nil, fmt.Errorf("registry: docker namespace %s.%s: exit status %d: %s", d.name, operator, status.StatusCode, stderr.String())
		}
	}

	var result any
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("registry: docker namespace %s.%s: decode result: %w", d.name, operator, err)
	}
	return result, nil
}
