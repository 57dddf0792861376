package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Environment variables passed to exec apps.
const (
	EnvApp     = "THINGHOST_APP"
	EnvDataDir = "THINGHOST_DATA_DIR"
	EnvIPCIn   = "THINGHOST_IPC_IN"
	EnvIPCOut  = "THINGHOST_IPC_OUT"
)

const maxLineSize = 1 << 20

// ExecLoader runs apps as subprocesses. Protocol lines flow host-to-app on
// the child's fd 3 and app-to-host on fd 4; stdout and stderr are captured
// line by line.
type ExecLoader struct {
	// Interpreter, when set, is prepended to the entry path.
	Interpreter []string
}

// NewExecLoader creates a loader that executes entry points directly.
func NewExecLoader() *ExecLoader {
	return &ExecLoader{}
}

// Spawn starts the subprocess. The context bounds only the start itself;
// the process lives until it exits or is killed.
func (l *ExecLoader) Spawn(ctx context.Context, spec LaunchSpec, hooks Hooks) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string(nil), l.Interpreter...), spec.Entry)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Env = append(cmd.Env,
		EnvApp+"="+spec.App,
		EnvDataDir+"="+spec.DataDir,
		EnvIPCIn+"=3",
		EnvIPCOut+"=4",
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{inR, outW}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fmt.Errorf("failed to capture stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fmt.Errorf("failed to capture stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fmt.Errorf("failed to start %s: %w", spec.Entry, err)
	}
	// The child holds its own copies.
	inR.Close()
	outW.Close()

	p := &execProcess{
		cmd:    cmd,
		input:  inW,
		outbox: newMailbox(),
		done:   make(chan struct{}),
	}

	var streams sync.WaitGroup
	streams.Add(2)
	go scanOutput(&streams, stdout, Stdout, hooks.OnOutput)
	go scanOutput(&streams, stderr, Stderr, hooks.OnOutput)

	var ipc sync.WaitGroup
	ipc.Add(1)
	go func() {
		defer ipc.Done()
		defer outR.Close()
		scanLines(outR, hooks.OnLine)
	}()

	go p.writeLoop()
	go p.monitor(&streams, &ipc, hooks.OnExit)

	if hooks.OnOnline != nil {
		hooks.OnOnline()
	}
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	input  *os.File
	outbox *mailbox
	done   chan struct{}
}

func (p *execProcess) Post(line []byte) error {
	if !p.outbox.push(line) {
		return fmt.Errorf("process %d has exited", p.cmd.Process.Pid)
	}
	return nil
}

// Kill signals the whole process group.
func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			return killErr
		}
	}
	return nil
}

func (p *execProcess) writeLoop() {
	defer p.input.Close()
	for {
		line, ok := p.outbox.pop()
		if !ok {
			return
		}
		if _, err := p.input.Write(line); err != nil {
			p.outbox.close()
			return
		}
	}
}

func (p *execProcess) monitor(streams, ipc *sync.WaitGroup, onExit func(int, error)) {
	streams.Wait()
	err := p.cmd.Wait()
	ipc.Wait()
	p.outbox.close()
	close(p.done)

	code := p.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && code >= 0 {
		err = nil
	}
	if onExit != nil {
		onExit(code, err)
	}
}

func scanOutput(wg *sync.WaitGroup, r io.Reader, stream Stream, fn func(Stream, string)) {
	defer wg.Done()
	scanLines(r, func(line []byte) {
		if fn != nil {
			fn(stream, string(line))
		}
	})
}

func scanLines(r io.Reader, fn func([]byte)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if fn == nil || len(scanner.Bytes()) == 0 {
			continue
		}
		line := append([]byte(nil), scanner.Bytes()...)
		fn(line)
	}
	// Drain so the writer never blocks on a full pipe after an oversized line.
	_, _ = io.Copy(io.Discard, r)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
